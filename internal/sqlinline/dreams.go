package sqlinline

const QCreateDreamsTable = `--sql 2250ca4a-0188-4787-8300-c38e9f006be3
create table if not exists dreams (
  id                 bigserial primary key,
  owner_id           bigint not null,
  title              text not null default '',
  content            text not null,
  keywords           jsonb,
  symbols            jsonb,
  emotions           jsonb,
  visual_description text,
  interpretation     text,
  model_path         text,
  status             text not null default 'pending'
                     check (status in ('pending', 'processing', 'complete', 'failed')),
  error_message      text,
  dispatched_at      timestamptz,
  created_at         timestamptz not null default now(),
  updated_at         timestamptz not null default now()
);
`

const QAddDreamsDispatchedAt = `--sql b0c866d8-2df0-4fc3-b9d2-746a0ea25e92
alter table dreams add column if not exists dispatched_at timestamptz;
`

const QCreateDreamsIndexes = `--sql 28f5c71e-f129-4fd0-8329-3e5721bc2137
create index if not exists dreams_owner_created_idx on dreams (owner_id, created_at desc);
create index if not exists dreams_status_updated_idx on dreams (status, updated_at);
`

const QInsertDream = `--sql 76dbc917-ab5e-4737-a9ea-5c6d7161c318
insert into dreams (owner_id, title, content, status, created_at, updated_at)
values ($1::bigint, $2::text, $3::text, 'pending', now(), now())
returning id, status, created_at, updated_at;
`

const QSelectDreamByID = `--sql c02ec342-d83b-4816-a557-6a21d8d6429f
select
  id,
  owner_id,
  title,
  content,
  coalesce(keywords, '[]'::jsonb),
  coalesce(symbols, '[]'::jsonb),
  coalesce(emotions, '[]'::jsonb),
  coalesce(visual_description, ''),
  coalesce(interpretation, ''),
  coalesce(model_path, ''),
  status,
  coalesce(error_message, ''),
  dispatched_at,
  created_at,
  updated_at
from dreams
where id = $1::bigint
limit 1;
`

const QListDreamsByOwner = `--sql ae8273b4-4d98-4bcd-aa98-847589a09bf5
select
  id,
  owner_id,
  title,
  content,
  coalesce(keywords, '[]'::jsonb),
  coalesce(symbols, '[]'::jsonb),
  coalesce(emotions, '[]'::jsonb),
  coalesce(visual_description, ''),
  coalesce(interpretation, ''),
  coalesce(model_path, ''),
  status,
  coalesce(error_message, ''),
  dispatched_at,
  created_at,
  updated_at
from dreams
where owner_id = $1::bigint
order by created_at desc, id desc
limit $2::int offset $3::int;
`

const QListDreamsByStatus = `--sql 86d4fbbd-500d-4c79-8650-b034709b7c0e
select
  id,
  owner_id,
  title,
  content,
  coalesce(keywords, '[]'::jsonb),
  coalesce(symbols, '[]'::jsonb),
  coalesce(emotions, '[]'::jsonb),
  coalesce(visual_description, ''),
  coalesce(interpretation, ''),
  coalesce(model_path, ''),
  status,
  coalesce(error_message, ''),
  dispatched_at,
  created_at,
  updated_at
from dreams
where status = $1::text
  and updated_at < $2::timestamptz
order by updated_at asc
limit $3::int;
`

const QMarkDreamProcessing = `--sql 2cfba3f0-02f5-4490-9f85-a44ef0a2cfc6
update dreams
set status = 'processing',
    updated_at = now()
where id = $1::bigint
  and status = 'pending';
`

const QCompleteDream = `--sql 5f573679-d712-45e0-aaf5-7a5e4a67ccd6
update dreams
set keywords = $2::jsonb,
    symbols = $3::jsonb,
    emotions = $4::jsonb,
    visual_description = $5::text,
    interpretation = $6::text,
    model_path = $7::text,
    status = 'complete',
    error_message = null,
    updated_at = now()
where id = $1::bigint
  and status = 'processing';
`

const QFailDream = `--sql 68d30b3b-1ba8-41e8-8c85-0c7b98810e5d
update dreams
set status = 'failed',
    error_message = $2::text,
    model_path = null,
    updated_at = now()
where id = $1::bigint
  and status = 'processing';
`

const QMarkDreamDispatched = `--sql 529b93a0-83a4-41dc-b348-ccd987294928
update dreams
set dispatched_at = now()
where id = $1::bigint
  and status = 'pending';
`

const QTouchDream = `--sql f04d9f69-ef92-4c54-9c7a-de15a079ff44
update dreams
set updated_at = now()
where id = $1::bigint
  and status = 'processing';
`
