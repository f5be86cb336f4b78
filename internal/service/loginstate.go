package service

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultIdleTimeout 閒置多久後自動釋放登入權限
const DefaultIdleTimeout = 3 * time.Minute

// LoginState gates the system to a single active user at a time, with a FIFO
// wait queue and idle-timeout eviction. It is constructed explicitly and
// injected where needed instead of living as a package-level singleton, so
// tests can use a fresh instance.
type LoginState struct {
	mu          sync.Mutex
	log         *zap.Logger
	idleTimeout time.Duration

	activeUser   string
	loginQueue   []string
	activityTime map[string]time.Time
	now          func() time.Time // 測試時可替換
}

func NewLoginState(log *zap.Logger) *LoginState {
	return &LoginState{
		log:          log,
		idleTimeout:  DefaultIdleTimeout,
		activityTime: make(map[string]time.Time),
		now:          time.Now,
	}
}

// TryLogin 嘗試取得登入權限。已是目前使用者時只更新活動時間；
// 被其他人佔用時加入等待佇列並回傳 false。
func (s *LoginState) TryLogin(username string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case s.activeUser == "":
		s.activeUser = username
		s.activityTime[username] = s.now()
		s.log.Info("使用者成功登入 (無其他使用者登入中)", zap.String("username", username))
		return true
	case s.activeUser == username:
		s.activityTime[username] = s.now()
		s.log.Info("使用者重複登入，更新活動時間", zap.String("username", username))
		return true
	default:
		if !s.queued(username) {
			s.loginQueue = append(s.loginQueue, username)
			s.log.Info("使用者加入等待佇列", zap.String("username", username))
		}
		return false
	}
}

// NotifyLogout 釋放登入權限；佇列中有人時由下一位接手。
func (s *LoginState) NotifyLogout(username string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.activeUser != username {
		return
	}

	s.log.Info("使用者登出，釋放登入權限", zap.String("username", username))
	s.activeUser = ""
	delete(s.activityTime, username)

	if len(s.loginQueue) > 0 {
		next := s.loginQueue[0]
		s.loginQueue = s.loginQueue[1:]
		s.activeUser = next
		s.activityTime[next] = s.now()
		s.log.Info("使用者從佇列中取得登入權限", zap.String("username", next))
	}
}

// CheckInactivity 檢查目前使用者是否閒置逾時，逾時則自動登出並回傳 true。
func (s *LoginState) CheckInactivity() bool {
	s.mu.Lock()
	active := s.activeUser
	var lastActive time.Time
	var ok bool
	if active != "" {
		lastActive, ok = s.activityTime[active]
	}
	idle := active != "" && ok && s.now().Sub(lastActive) > s.idleTimeout
	s.mu.Unlock()

	if idle {
		s.log.Info("使用者閒置逾時，自動登出", zap.String("username", active))
		s.NotifyLogout(active)
		return true
	}
	return false
}

// Touch 更新目前使用者的活動時間。
func (s *LoginState) Touch(username string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.activeUser == username {
		s.activityTime[username] = s.now()
	}
}

// ActiveUser 回傳目前持有登入權限的使用者（空字串表示無人登入）。
func (s *LoginState) ActiveUser() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeUser
}

func (s *LoginState) queued(username string) bool {
	for _, u := range s.loginQueue {
		if u == username {
			return true
		}
	}
	return false
}
