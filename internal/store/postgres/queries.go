package postgres

const alarmColumns = `
    id, owner_id, title, kind, time_of_day::text, repeats, weekdays, active,
    reminder_id, schedule_id, target_date::text,
    next_trigger_at, last_triggered_at, trigger_count,
    created_at, updated_at`

const queryGetAlarm = `
SELECT` + alarmColumns + `
FROM alarms
WHERE id = $1
`

const queryListAlarms = `
SELECT` + alarmColumns + `
FROM alarms
WHERE owner_id = $1
ORDER BY created_at DESC
LIMIT $2 OFFSET $3
`

const queryListActiveAlarms = `
SELECT` + alarmColumns + `
FROM alarms
WHERE active = true
ORDER BY id
LIMIT $1 OFFSET $2
`

const queryInsertAlarm = `
INSERT INTO alarms (
    id, owner_id, title, kind, time_of_day, repeats, weekdays, active,
    reminder_id, schedule_id, target_date,
    next_trigger_at, last_triggered_at, trigger_count,
    created_at, updated_at)
VALUES ($1, $2, $3, $4, $5::time, $6, $7, $8, $9, $10, $11::date, $12, $13, $14, $15, $16)
`

const queryUpdateAlarm = `
UPDATE alarms
SET title = $3, kind = $4, time_of_day = $5::time, repeats = $6, weekdays = $7,
    active = $8, reminder_id = $9, schedule_id = $10, target_date = $11::date,
    updated_at = $12
WHERE id = $1 AND owner_id = $2
`

const queryDeleteAlarm = `
DELETE FROM alarms WHERE id = $1 AND owner_id = $2
RETURNING id`

const querySetNextTrigger = `
UPDATE alarms
SET next_trigger_at = $2
WHERE id = $1
`

const queryAdvanceAlarm = `
UPDATE alarms
SET last_triggered_at = $2,
    trigger_count = trigger_count + 1,
    next_trigger_at = $3,
    updated_at = now()
WHERE id = $1
`

// A nil fired-at retires without counting a fire.
const queryRetireAlarm = `
UPDATE alarms
SET active = false,
    next_trigger_at = NULL,
    last_triggered_at = COALESCE($2::timestamptz, last_triggered_at),
    trigger_count = trigger_count + CASE WHEN $2::timestamptz IS NULL THEN 0 ELSE 1 END,
    updated_at = now()
WHERE id = $1
`
