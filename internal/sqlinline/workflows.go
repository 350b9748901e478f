package sqlinline

const QEnsureWorkflowInstances = `--sql 436593a6-08fe-454c-84bb-eabbf29d9fb2
create table if not exists workflow_instances (
  id           text primary key,
  uid          text not null,
  face_keys    text[] not null,
  office_keys  text[] not null,
  status       text not null default 'queued',
  step_results jsonb not null default '{}'::jsonb,
  output       jsonb,
  error        text,
  created_at   timestamptz not null default now(),
  updated_at   timestamptz not null default now()
);
`

const QEnsureIntegrationTokens = `--sql 0b25d7ee-7c62-446b-a0b4-d0702b5f88da
create table if not exists integration_tokens (
  id         uuid primary key,
  provider   text not null unique,
  token      text not null,
  properties jsonb not null default '{}'::jsonb,
  created_at timestamptz not null default now(),
  updated_at timestamptz not null default now()
);
`

const QInsertWorkflowInstance = `--sql f3a2d653-a40c-4a9d-9095-e73655b30864
insert into workflow_instances (id, uid, face_keys, office_keys, status, step_results, created_at, updated_at)
values ($1::text, $2::text, $3::text[], $4::text[], 'queued', '{}'::jsonb, now(), now())
on conflict (id) do nothing;
`

const QSelectWorkflowInstance = `--sql 5298ce83-aab7-4702-8b3e-1a65f524c535
select id, uid, face_keys, office_keys, status, step_results, coalesce(output, 'null'::jsonb), coalesce(error, ''), created_at, updated_at
from workflow_instances
where id = $1::text
limit 1;
`

const QClaimWorkflowInstance = `--sql c1e7b250-1ebe-47b3-92ab-64851b80a57b
with next_instance as (
    select id
    from workflow_instances
    where status = 'queued'
       or (status = 'running' and updated_at < now() - interval '5 minutes')
    order by created_at asc
    for update skip locked
    limit 1
)
update workflow_instances
set status = 'running', updated_at = now()
where id in (select id from next_instance)
returning id, uid, face_keys, office_keys, status, step_results, coalesce(output, 'null'::jsonb), coalesce(error, ''), created_at, updated_at;
`

const QCommitWorkflowStep = `--sql 29d74d91-045b-47f2-a014-a8bc6ba5c60c
update workflow_instances
set step_results = step_results || jsonb_build_object($2::text, $3::text),
    updated_at = now()
where id = $1::text;
`

const QCompleteWorkflowInstance = `--sql 24a60aaa-bd17-4dec-97a3-a5c424719939
update workflow_instances
set status = 'complete', output = $2::jsonb, error = null, updated_at = now()
where id = $1::text and status = 'running';
`

const QFailWorkflowInstance = `--sql c2a4e8cd-7b50-4a30-b000-919c2f44316f
update workflow_instances
set status = 'errored', error = $2::text, updated_at = now()
where id = $1::text and status = 'running';
`

const QTerminateWorkflowInstance = `--sql fff61743-6eaa-4bdb-8377-e20cc2642b54
update workflow_instances
set status = 'terminated', updated_at = now()
where id = $1::text and status in ('queued', 'running');
`
