package sqlinline

// Provider secrets kept outside the environment. provider is unique.
const QSelectIntegrationToken = `--sql 7ad9c8c4-323e-4fb9-a0bb-79a317f60b21
select btrim(token)
from integration_tokens
where provider = $1::text;
`

// QUpsertIntegrationToken replaces the token and merges properties so
// earlier annotations survive a rotation.
const QUpsertIntegrationToken = `--sql ea750fad-bb13-4677-bf0c-76fb534782c6
insert into integration_tokens (provider, token, properties)
values ($1::text, $2::text, coalesce($3::jsonb, '{}'::jsonb))
on conflict (provider) do update set
    token      = excluded.token,
    properties = integration_tokens.properties || excluded.properties,
    updated_at = now();
`
