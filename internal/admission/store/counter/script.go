package counter

import "github.com/redis/go-redis/v9"

// admissionScript charges one request against the token bucket and the daily
// byte quota of a client in a single atomic step.
//
// KEYS[1] token bucket hash {tokens, ts}
// KEYS[2] daily quota counter (bytes)
// ARGV    nowMs, units, bytes, capacity, refillPerMs, dailyLimit, ttlSeconds
//
// Replies {status, tokens[, quota]}. Numbers travel as plain decimal strings
// because Redis truncates Lua numbers to integers when converting replies.
// Token levels keep 17 fractional digits and are never written in exponent
// form, so they parse again on the next call.
var admissionScript = redis.NewScript(`
local tokensKey = KEYS[1]
local quotaKey = KEYS[2]
local now = tonumber(ARGV[1])
local units = tonumber(ARGV[2])
local bytes = tonumber(ARGV[3])
local capacity = tonumber(ARGV[4])
local refillPerMs = tonumber(ARGV[5])
local dailyLimit = tonumber(ARGV[6])
local ttl = tonumber(ARGV[7])

local function num(v)
  return string.format('%.17g', v)
end

local function frac(v)
  return string.format('%.17f', v)
end

local state = redis.call('HMGET', tokensKey, 'tokens', 'ts')
local tokens = capacity
local last = now
if state[1] and state[2] then
  tokens = tonumber(state[1])
  last = tonumber(state[2])
end

local elapsed = math.max(0, now - last)
tokens = math.min(capacity, tokens + elapsed * refillPerMs)
if tokens < 0 then
  tokens = 0
end
-- never move the refill clock backwards when instance clocks disagree
local ts = math.max(now, last)

if tokens < units then
  redis.call('HSET', tokensKey, 'tokens', frac(tokens), 'ts', num(ts))
  redis.call('EXPIRE', tokensKey, ttl)
  return {'RATE_LIMIT_EXCEEDED', frac(tokens)}
end

tokens = tokens - units
redis.call('HSET', tokensKey, 'tokens', frac(tokens), 'ts', num(ts))
redis.call('EXPIRE', tokensKey, ttl)

local consumed = tonumber(redis.call('GET', quotaKey) or '0') or 0
local newQuota = consumed + bytes
if newQuota > dailyLimit then
  return {'DAILY_LIMIT_EXCEEDED', frac(tokens), num(newQuota)}
end

redis.call('SET', quotaKey, num(newQuota), 'EX', ttl)
return {'OK', frac(tokens), num(newQuota)}
`)
