package redis

const (
	// upsertSessionScript atomically updates a session and its indexes
	upsertSessionScript = `
local session_key = KEYS[1]   -- wardend:session:{sessionID}
local active_set = KEYS[2]    -- wardend:sessions:active
local user_set = KEYS[3]      -- wardend:sessions:user:{userID}

local session_id = ARGV[1]
local user_id = ARGV[2]
local started_at = ARGV[3]
local ended_at = ARGV[4]
local active = ARGV[5]
local end_reason = ARGV[6]

redis.call('HSET', session_key,
  'id', session_id,
  'user_id', user_id,
  'started_at', started_at,
  'ended_at', ended_at,
  'active', active,
  'end_reason', end_reason
)

redis.call('SADD', user_set, session_id)

if active == '1' then
  redis.call('SADD', active_set, session_id)
  redis.call('PERSIST', session_key)
else
  redis.call('SREM', active_set, session_id)
  -- Inactive sessions expire after 90 days (7776000 seconds)
  redis.call('EXPIRE', session_key, 7776000)
end

return 'OK'
`
)
