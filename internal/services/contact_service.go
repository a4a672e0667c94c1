package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/charlesng35/convene/internal/delivery"
	"github.com/charlesng35/convene/internal/models"
	"github.com/charlesng35/convene/pkg/crypto"
	"github.com/charlesng35/convene/pkg/validator"
)

const (
	contactEncryptionPurpose = "convene/contact/encryption"
	contactIndexPurpose      = "convene/contact/index"
)

// ContactInput sets a user's delivery addresses. Empty addresses clear the stored value.
type ContactInput struct {
	UserID      string `json:"user_id" validate:"required,notblank,max=64"`
	DisplayName string `json:"display_name" validate:"max=255"`
	Email       string `json:"email" validate:"omitempty,email"`
	Phone       string `json:"phone" validate:"omitempty,e164"`
}

// ContactDTO is a decrypted contact.
type ContactDTO struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	Email       string `json:"email,omitempty"`
	Phone       string `json:"phone,omitempty"`
}

// ContactService stores user delivery addresses encrypted at rest.
type ContactService struct {
	db       *gorm.DB
	sealer   *crypto.Sealer
	indexKey []byte
}

// NewContactService derives the encryption and lookup keys from masterKey.
func NewContactService(db *gorm.DB, masterKey []byte) (*ContactService, error) {
	if db == nil {
		return nil, errors.New("contact service: db is required")
	}
	encKey, err := crypto.DeriveSubkey(masterKey, contactEncryptionPurpose, 32)
	if err != nil {
		return nil, fmt.Errorf("contact service: derive encryption key: %w", err)
	}
	indexKey, err := crypto.DeriveSubkey(masterKey, contactIndexPurpose, 32)
	if err != nil {
		return nil, fmt.Errorf("contact service: derive index key: %w", err)
	}
	sealer, err := crypto.NewSealer(encKey)
	if err != nil {
		return nil, fmt.Errorf("contact service: %w", err)
	}
	return &ContactService{db: db, sealer: sealer, indexKey: indexKey}, nil
}

// Upsert creates or replaces the user's contact.
func (s *ContactService) Upsert(ctx context.Context, input ContactInput) (*ContactDTO, error) {
	ctx = ensureContext(ctx)
	input.UserID = strings.TrimSpace(input.UserID)
	input.Email = normaliseEmail(input.Email)
	input.Phone = strings.TrimSpace(input.Phone)
	if err := validator.ValidateStruct(input); err != nil {
		return nil, err
	}

	contact := models.Contact{
		UserID:      input.UserID,
		DisplayName: strings.TrimSpace(input.DisplayName),
	}
	if input.Email != "" {
		sealed, err := s.sealer.Seal([]byte(input.Email), contactField(input.UserID, "email"))
		if err != nil {
			return nil, fmt.Errorf("contact service: encrypt email: %w", err)
		}
		contact.EmailCiphertext = sealed
		contact.EmailIndex = crypto.BlindIndex([]byte(input.Email), s.indexKey)
	}
	if input.Phone != "" {
		sealed, err := s.sealer.Seal([]byte(input.Phone), contactField(input.UserID, "phone"))
		if err != nil {
			return nil, fmt.Errorf("contact service: encrypt phone: %w", err)
		}
		contact.PhoneCiphertext = sealed
	}

	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"display_name", "email_ciphertext", "email_index", "phone_ciphertext", "updated_at"}),
	}).Create(&contact).Error
	if err != nil {
		return nil, fmt.Errorf("contact service: save contact: %w", err)
	}

	return &ContactDTO{
		UserID:      contact.UserID,
		DisplayName: contact.DisplayName,
		Email:       input.Email,
		Phone:       input.Phone,
	}, nil
}

// Get returns the user's decrypted contact.
func (s *ContactService) Get(ctx context.Context, userID string) (*ContactDTO, error) {
	ctx = ensureContext(ctx)
	var contact models.Contact
	err := s.db.WithContext(ctx).Where("user_id = ?", strings.TrimSpace(userID)).First(&contact).Error
	if err != nil {
		return nil, notFoundOr(err, func(err error) error { return fmt.Errorf("contact service: get contact: %w", err) })
	}
	return s.open(contact)
}

// FindByEmail looks a contact up by address without decrypting the table.
func (s *ContactService) FindByEmail(ctx context.Context, email string) (*ContactDTO, error) {
	ctx = ensureContext(ctx)
	email = normaliseEmail(email)
	if email == "" {
		return nil, ErrNotFound
	}

	var contact models.Contact
	err := s.db.WithContext(ctx).
		Where("email_index = ?", crypto.BlindIndex([]byte(email), s.indexKey)).
		First(&contact).Error
	if err != nil {
		return nil, notFoundOr(err, func(err error) error { return fmt.Errorf("contact service: find contact: %w", err) })
	}
	return s.open(contact)
}

// Recipients resolves delivery destinations for userIDs on channel. Users without an address
// for the channel are returned separately, in input order.
func (s *ContactService) Recipients(ctx context.Context, userIDs []string, channel models.Channel) ([]delivery.Recipient, []string, error) {
	ctx = ensureContext(ctx)
	userIDs = normaliseIDs(userIDs)
	if len(userIDs) == 0 {
		return nil, nil, nil
	}

	var contacts []models.Contact
	if err := s.db.WithContext(ctx).Where("user_id IN ?", userIDs).Find(&contacts).Error; err != nil {
		return nil, nil, fmt.Errorf("contact service: load contacts: %w", err)
	}

	byUser := make(map[string]*ContactDTO, len(contacts))
	for _, contact := range contacts {
		dto, err := s.open(contact)
		if err != nil {
			return nil, nil, err
		}
		byUser[contact.UserID] = dto
	}

	var recipients []delivery.Recipient
	var missing []string
	for _, userID := range userIDs {
		dto := byUser[userID]
		address := ""
		if dto != nil {
			address = dto.Email
			if channel == models.ChannelSMS {
				address = dto.Phone
			}
		}
		if address == "" {
			missing = append(missing, userID)
			continue
		}
		recipients = append(recipients, delivery.Recipient{UserID: userID, Address: address, Name: dto.DisplayName})
	}
	return recipients, missing, nil
}

func (s *ContactService) open(contact models.Contact) (*ContactDTO, error) {
	dto := &ContactDTO{UserID: contact.UserID, DisplayName: contact.DisplayName}
	if contact.EmailCiphertext != "" {
		plain, err := s.sealer.Open(contact.EmailCiphertext, contactField(contact.UserID, "email"))
		if err != nil {
			return nil, fmt.Errorf("contact service: decrypt email: %w", err)
		}
		dto.Email = string(plain)
	}
	if contact.PhoneCiphertext != "" {
		plain, err := s.sealer.Open(contact.PhoneCiphertext, contactField(contact.UserID, "phone"))
		if err != nil {
			return nil, fmt.Errorf("contact service: decrypt phone: %w", err)
		}
		dto.Phone = string(plain)
	}
	return dto, nil
}

// contactField is the associated data binding a ciphertext to its owner and column, so a
// value copied onto another user's row fails to open.
func contactField(userID, field string) []byte {
	return []byte("contact:" + userID + ":" + field)
}

func normaliseEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
