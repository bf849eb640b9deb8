package sqlinline

const QSelectSourceAsset = `--sql 5e1a10af-829f-4e1d-9f62-9d725d543b48
select id::text, coalesce(name, ''), storage_key, mime, width, height
from assets
where id = $1::uuid
limit 1;
`

const QInsertSourceAsset = `--sql d59b6941-7867-4d5d-8b3f-1f4a1d9182af
insert into assets(
  id,
  name,
  storage_key,
  mime,
  bytes,
  width,
  height,
  created_at
) values (
  gen_random_uuid(),
  nullif($1::text, ''),
  $2::text,
  $3::text,
  $4::bigint,
  $5::int,
  $6::int,
  now()
) returning id;
`
