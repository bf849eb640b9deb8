package sqlinline

// Schema creates the tables the queries in this package expect.
const Schema = `--sql 7a2d9e14-5c3b-4f86-9e0a-b41c6d8f2e57
create table if not exists assets (
  id uuid primary key,
  name text,
  storage_key text not null,
  mime text not null,
  bytes bigint not null default 0,
  width int not null,
  height int not null,
  created_at timestamptz not null default now()
);

create table if not exists placements (
  id uuid primary key,
  request_id uuid,
  asset_name text not null,
  outcome text not null,
  reason text,
  direction text,
  tiles int not null default 0,
  node_id text not null,
  created_at timestamptz not null default now()
);
`
