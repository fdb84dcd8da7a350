package services

import (
	"sync"
	"time"

	"github.com/gloriousnetworker/nysc-backend/internal/models"
	"github.com/gloriousnetworker/nysc-backend/pkg/logger"
	"gorm.io/gorm"
)

const auditQueueSize = 1000

const (
	AuditRegister               = "corper.register"
	AuditVerify                 = "corper.verify"
	AuditLogin                  = "corper.login"
	AuditLoginTwoFactorPending  = "corper.login_2fa_pending"
	AuditLoginTwoFactor         = "corper.login_2fa"
	AuditLogout                 = "corper.logout"
	AuditMFAEnrollStarted       = "mfa.enroll_started"
	AuditMFAEnabled             = "mfa.enabled"
	AuditMFADisabled            = "mfa.disabled"
	AuditMFAEmailCodeSent       = "mfa.email_code_sent"
	AuditMFAEmailCodeVerified   = "mfa.email_code_verified"
	AuditMFABackupCodesRotated  = "mfa.backup_codes_regenerated"
	AuditMFABackupCodeUsed      = "mfa.backup_code_used"
	AuditPasswordResetRequested = "password.reset_requested"
	AuditPasswordReset          = "password.reset"
)

type AuditEntry struct {
	StateCode string
	Email     string
	Action    string
	Details   map[string]interface{}
	IPAddress string
	RequestID string
}

// AuditService persists auth events off the request path. Events are
// dropped, with a warning, when the queue is full.
type AuditService struct {
	DB     *gorm.DB
	queue  chan models.AuthEvent
	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

func NewAuditService(db *gorm.DB) *AuditService {
	s := &AuditService{
		DB:    db,
		queue: make(chan models.AuthEvent, auditQueueSize),
		done:  make(chan struct{}),
	}
	go s.processQueue()
	return s
}

func (s *AuditService) LogAsync(entry AuditEntry) {
	if s == nil {
		return
	}

	row := models.AuthEvent{
		Email:     entry.Email,
		Action:    entry.Action,
		Details:   entry.Details,
		IPAddress: entry.IPAddress,
		RequestID: entry.RequestID,
		CreatedAt: time.Now().UTC(),
	}
	if entry.StateCode != "" {
		stateCode := entry.StateCode
		row.StateCode = &stateCode
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}

	select {
	case s.queue <- row:
	default:
		logger.Warn("audit_queue_full", map[string]interface{}{
			"action":  entry.Action,
			"dropped": true,
		})
	}
}

// Close stops accepting events and waits for queued ones to be written.
func (s *AuditService) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		<-s.done
		return
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()
	<-s.done
}

func (s *AuditService) processQueue() {
	defer close(s.done)
	for row := range s.queue {
		if err := s.DB.Create(&row).Error; err != nil {
			logger.Error("audit_log_insert_failed", err, map[string]interface{}{
				"action": row.Action,
			})
		}
	}
}
