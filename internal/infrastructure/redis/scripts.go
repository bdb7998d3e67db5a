package redis

import "github.com/go-redis/redis/v8"

// incrementWindowScript counts a request and arms the window expiry on the first hit.
// A counter that somehow lost its expiry is re-armed so it cannot live forever.
var incrementWindowScript = redis.NewScript(`
local count = redis.call('INCR', KEYS[1])
if count == 1 or redis.call('PTTL', KEYS[1]) == -1 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return count
`)

// decrementFloorScript takes one back from a counter without creating it or going negative.
var decrementFloorScript = redis.NewScript(`
local current = tonumber(redis.call('GET', KEYS[1]) or '0')
if current == nil then
	return redis.error_reply('counter is not an integer')
end
if current > 0 then
	return redis.call('DECR', KEYS[1])
end
return current
`)
