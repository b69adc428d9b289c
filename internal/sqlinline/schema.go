package sqlinline

// QEnsureSchema creates the tables used by the job store, asset store and
// actor catalog. Every statement is idempotent.
const QEnsureSchema = `--sql 0b47219e-d0e3-4a8f-a588-f4368aab948b
create table if not exists generation_job (
    id uuid primary key,
    seq bigserial not null,
    project_id text not null,
    step text not null default 'init',
    step_index smallint not null default 0,
    status text not null default 'queued',
    request jsonb not null,
    steps jsonb not null default '{}'::jsonb,
    result jsonb,
    failed_reason text,
    created_at timestamptz not null default now(),
    updated_at timestamptz not null default now()
);
create index if not exists generation_job_status_seq_idx on generation_job (status, seq);

create table if not exists video_asset (
    id uuid primary key,
    project_id text not null,
    actor_id uuid not null,
    image_variant_id uuid,
    source_type text not null,
    source_text text,
    source_audio_url text not null,
    image_url text not null,
    video_url text not null,
    duration_seconds integer,
    status text not null default 'completed',
    meta jsonb not null default '{}'::jsonb,
    created_at timestamptz not null default now()
);
create index if not exists video_asset_project_idx on video_asset (project_id, created_at desc);

create table if not exists actor_model (
    id uuid primary key,
    key text not null unique,
    display_name text not null default '',
    image_url text not null,
    voice_provider text not null default 'fal',
    voice_id text not null
);

create table if not exists actor_image_variant (
    id uuid primary key,
    actor_id uuid not null references actor_model (id),
    project_id text not null,
    prompt text not null default '',
    output_image_url text not null
);

create table if not exists provider_credential (
    provider text primary key,
    token text not null,
    properties jsonb not null default '{}'::jsonb,
    updated_at timestamptz not null default now()
);
`
