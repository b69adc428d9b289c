package sqlinline

const QJobInsert = `--sql c0f6c5c1-2fdd-4ed1-846f-632ae419d308
insert into generation_job (id, project_id, step, step_index, status, request, steps)
values ($1::uuid, $2, 'init', 0, 'queued', $3::jsonb, '{}'::jsonb)
returning seq, created_at, updated_at;
`

const QJobGetByID = `--sql 0dc3878e-dd56-4c03-a208-13a343b2be91
select id::text, seq, step, status, request, steps, result, failed_reason, created_at, updated_at
from generation_job
where id = $1::uuid;
`

// QJobClaimNext moves the oldest queued job to running. Concurrent workers
// skip rows another transaction already locked.
const QJobClaimNext = `--sql f793b847-a94e-458c-b571-0d4969100cb9
with next_job as (
    select id
    from generation_job
    where status = 'queued'
    order by seq asc
    for update skip locked
    limit 1
),
updated as (
    update generation_job
    set status = 'running', updated_at = now()
    where id in (select id from next_job)
    returning id::text, seq, step, status, request, steps, result, failed_reason, created_at, updated_at
)
select * from updated;
`

// QJobRecordStep only matches when the step does not move backwards.
const QJobRecordStep = `--sql b9327fd8-7384-4788-ad3b-6a1d7dd52860
update generation_job
set step = $2,
    step_index = $3,
    steps = jsonb_set(steps, array[$2::text], $4::jsonb, true),
    updated_at = now()
where id = $1::uuid
  and step_index <= $3
  and status not in ('completed', 'failed');
`

const QJobExists = `--sql 705bf398-0e8b-4109-898b-cf2305d1acb3
select exists (select 1 from generation_job where id = $1::uuid);
`

const QJobComplete = `--sql 3a8306d2-ab1f-474e-a398-3b0395ba74bd
update generation_job
set status = 'completed',
    step = 'finalize',
    step_index = 4,
    result = $2::jsonb,
    updated_at = now()
where id = $1::uuid
  and status = 'running';
`

const QJobFail = `--sql 17b6a142-5975-4995-aae0-c98c9cace86b
update generation_job
set status = 'failed',
    failed_reason = $2,
    updated_at = now()
where id = $1::uuid
  and status <> 'completed';
`

const QJobFailStale = `--sql e4afacc5-4c43-4f29-a500-43c295958524
update generation_job
set status = 'failed',
    failed_reason = $2,
    updated_at = now()
where status = 'running'
  and updated_at < $1;
`

const QJobNotify = `--sql 2cbb27c9-6458-4049-99cf-84900e8bc967
select pg_notify($1, $2);
`
