package sqlinline

const QProviderCredentialGet = `--sql 4f7e2a91-b3c8-4d5e-a6f1-0c9b8d7e6a52
select token
from provider_credential
where provider = $1;
`

const QProviderCredentialUpsert = `--sql c3d1e8f0-5a7b-4c92-8e16-b2f4a9d0c7e3
insert into provider_credential (provider, token, properties, updated_at)
values ($1, $2, $3::jsonb, now())
on conflict (provider) do update
set token = excluded.token,
    properties = excluded.properties,
    updated_at = now();
`
