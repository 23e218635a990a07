// Package service contains the service layer for the StormAlert API
package service

import (
	"fmt"
	"time"

	kitesession "github.com/nsvirk/gokitesession"
	"github.com/stormalert/stormalertapi/internal/models"
	"github.com/stormalert/stormalertapi/internal/repository"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// SessionService exchanges credentials for an upstream session token
// and persists it with an expiry bound.
type SessionService struct {
	repo        *repository.SessionRepository
	kiteSession *kitesession.Client
}

// NewSessionService creates a new SessionService
func NewSessionService(db *gorm.DB) *SessionService {
	return &SessionService{
		repo:        repository.NewSessionRepository(db),
		kiteSession: kitesession.New(),
	}
}

// GenerateSession generates a new session for the given user. A stored
// session is reused when the password matches, the token is still
// valid upstream and the expiry bound has not passed.
func (s *SessionService) GenerateSession(userId, password, totpValue string) (models.SessionModel, error) {
	existingSession, err := s.repo.GetSessionByUserId(userId)
	if err == nil && !existingSession.Expired(time.Now()) {
		if err := bcrypt.CompareHashAndPassword([]byte(existingSession.HashedPassword), []byte(password)); err == nil {
			isValid, err := s.kiteSession.CheckEnctokenValid(existingSession.Enctoken)
			if err == nil && isValid {
				return *existingSession, nil
			}
		}
	}

	session, err := s.kiteSession.GenerateSession(userId, password, totpValue)
	if err != nil {
		return models.SessionModel{}, fmt.Errorf("login failed: %v", err)
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return models.SessionModel{}, fmt.Errorf("failed to hash password: %v", err)
	}

	newSession := models.SessionModel{
		UserId:         session.UserID,
		UserName:       session.Username,
		UserShortname:  session.UserShortname,
		AvatarUrl:      session.AvatarURL,
		PublicToken:    session.PublicToken,
		KfSession:      session.KFSession,
		Enctoken:       session.Enctoken,
		LoginTime:      session.LoginTime,
		ExpiresAt:      endOfDayUTC(time.Now()),
		HashedPassword: string(hashedPassword),
	}

	if err := s.repo.UpsertSession(&newSession); err != nil {
		return models.SessionModel{}, fmt.Errorf("failed to upsert session: %v", err)
	}

	return newSession, nil
}

// endOfDayUTC is the operational expiry bound for an upstream token:
// the session payload carries no expiry of its own and tokens do not
// survive the trading day.
func endOfDayUTC(now time.Time) time.Time {
	y, m, d := now.UTC().Date()
	return time.Date(y, m, d, 23, 59, 59, 0, time.UTC)
}

// GenerateTOTP generates a TOTP value for the given secret
func (s *SessionService) GenerateTOTP(totpSecret string) (string, error) {
	return kitesession.GenerateTOTPValue(totpSecret)
}

// GetSession returns the stored session for the given user
func (s *SessionService) GetSession(userId string) (*models.SessionModel, error) {
	return s.repo.GetSessionByUserId(userId)
}

// DeleteSession deletes the session for the given user
func (s *SessionService) DeleteSession(userId, enctoken string) (int64, error) {
	return s.repo.DeleteSession(userId, enctoken)
}

// CheckEnctokenValid checks the token validity with the upstream API
func (s *SessionService) CheckEnctokenValid(enctoken string) (bool, error) {
	return s.kiteSession.CheckEnctokenValid(enctoken)
}

// VerifyUserAuthorization verifies the session for the given user and
// enctoken against the stored session. Used by the auth middleware.
func (s *SessionService) VerifyUserAuthorization(userID, enctoken string) (*models.SessionModel, error) {
	session, err := s.repo.GetSessionByUserId(userID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, fmt.Errorf("`user_id` %s not found", userID)
		}
		return nil, err
	}

	if enctoken != session.Enctoken {
		return nil, fmt.Errorf("`enctoken` is invalid for `user_id` %s", userID)
	}
	if session.Expired(time.Now()) {
		return nil, fmt.Errorf("session for `user_id` %s has expired", userID)
	}

	return session, nil
}
