package sqlinline

const QInsertPlacement = `--sql 3b0f6c52-8e7a-4d1f-b2c9-61a4d0e7f915
insert into placements(
  id,
  request_id,
  asset_name,
  outcome,
  reason,
  direction,
  tiles,
  node_id,
  created_at
) values (
  gen_random_uuid(),
  nullif($1::text, '')::uuid,
  $2::text,
  $3::text,
  nullif($4::text, ''),
  nullif($5::text, ''),
  $6::int,
  $7::text,
  now()
);
`

const QListPlacements = `--sql 9c4e2a77-1d5b-4f0e-a8b3-2e6f7c0d9a41
select request_id::text, asset_name, outcome, coalesce(reason, ''), coalesce(direction, ''), tiles, node_id, created_at
from placements
order by created_at desc
limit $1::int offset $2::int;
`
