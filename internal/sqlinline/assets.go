package sqlinline

// QAssetInsert returns no row when an asset with the same id already exists.
const QAssetInsert = `--sql a42fc1e2-6fe6-476d-acc7-d77a5bc742a3
insert into video_asset (
    id, project_id, actor_id, image_variant_id, source_type, source_text,
    source_audio_url, image_url, video_url, duration_seconds, status, meta
)
values ($1::uuid, $2, $3::uuid, nullif($4, '')::uuid, $5, nullif($6, ''), $7, $8, $9, $10, $11, $12::jsonb)
on conflict (id) do nothing
returning created_at;
`

const QAssetGetByID = `--sql 73f41d4e-10e5-4039-896d-055362bfc31f
select id::text, project_id, actor_id::text, coalesce(image_variant_id::text, ''), source_type,
       coalesce(source_text, ''), source_audio_url, image_url, video_url, duration_seconds,
       status, meta, created_at
from video_asset
where id = $1::uuid;
`
