package sqlinline

const QActorByKey = `--sql da059d0a-83c1-4429-b07c-972a89f2df98
select id::text, key, display_name, image_url, voice_provider, voice_id
from actor_model
where key = $1;
`

const QImageVariantByID = `--sql 3c4d07ff-cd68-493f-a4e0-f06d44e4e9f3
select id::text, actor_id::text, project_id, prompt, output_image_url
from actor_image_variant
where id = $1::uuid;
`

const QActorUpsert = `--sql 5e1a9c3b-7d2f-4b86-9e0a-3c4d5f6a7b81
insert into actor_model (id, key, display_name, image_url, voice_provider, voice_id)
values ($1::uuid, $2, $3, $4, $5, $6)
on conflict (key) do update
set display_name = excluded.display_name,
    image_url = excluded.image_url,
    voice_provider = excluded.voice_provider,
    voice_id = excluded.voice_id;
`

const QImageVariantUpsert = `--sql 9a2b4c6d-8e0f-4a1b-b3c5-d7e9f1a3b5c7
insert into actor_image_variant (id, actor_id, project_id, prompt, output_image_url)
values ($1::uuid, $2::uuid, $3, $4, $5)
on conflict (id) do update
set prompt = excluded.prompt,
    output_image_url = excluded.output_image_url;
`
