package sqlinline

const QCreateIntegrationTokensTable = `--sql d99ace3a-0777-40fb-8fdf-f284d127d83c
create table if not exists integration_tokens (
  id         uuid primary key,
  provider   text not null unique,
  token      text not null,
  properties jsonb not null default '{}'::jsonb,
  created_at timestamptz not null default now(),
  updated_at timestamptz not null default now()
);
`

const QSelectIntegrationToken = `--sql 8a8e0d52-7f5d-4f21-8b7d-f7d4b821eed7
select token
from integration_tokens
where provider = $1::text
limit 1;
`

const QUpsertIntegrationToken = `--sql 6d4f5660-0f7c-4f73-a1f3-9ab6d5e6c7a3
insert into integration_tokens (id, provider, token, created_at, updated_at)
values ($1::uuid, $2::text, $3::text, now(), now())
on conflict (provider) do update set
  token = excluded.token,
  updated_at = now();
`
