package http

import (
	"context"
)

// allowLoginAttempt enforces a fixed-window attempt counter per client
// IP. Without a configured redis client every attempt is allowed.
func (s *Server) allowLoginAttempt(ctx context.Context, ip string) (bool, error) {
	if s.redis == nil || s.cfg.LoginAttemptLimit <= 0 || ip == "" {
		return true, nil
	}

	key := "login_attempts:" + ip
	count, err := s.redis.Incr(ctx, key).Result()
	if err != nil {
		return true, err
	}
	if count == 1 {
		if err := s.redis.Expire(ctx, key, s.cfg.LoginAttemptWindow).Err(); err != nil {
			return true, err
		}
	}
	return count <= int64(s.cfg.LoginAttemptLimit), nil
}
