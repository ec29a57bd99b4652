package sqlinline

const QInsertCardJob = `--sql 792fe926-e2eb-4047-95a6-568df7f1e15b
insert into card_jobs (id, external_id, prompt, style, width, height, status, error_detail, created_at, updated_at)
values ($1::uuid, nullif($2::text, ''), $3::text, $4::text, $5::int, $6::int, $7::text, $8::text, $9, $9);
`

const QUpdateCardJobStatus = `--sql c55ce35b-997d-4b7a-ab84-5771681aee49
update card_jobs
set status       = $2::text,
    external_id  = coalesce(nullif($3::text, ''), external_id),
    error_detail = $4::text,
    updated_at   = now()
where id = $1::uuid;
`

const QSelectCardJob = `--sql 2169804c-f1a2-4d74-9d2e-9cf8a2bd999c
select id::text, coalesce(external_id, ''), prompt, style, width, height, status, error_detail, created_at, updated_at
from card_jobs
where id = $1::uuid;
`
