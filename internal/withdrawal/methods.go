package withdrawal

import (
	"context"
	"fmt"
	"strings"

	"studyhub/internal/store"
	"studyhub/pkg/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// MethodInput - реквизиты, которые создатель указывает для выплат
type MethodInput struct {
	MethodType    models.WithdrawalMethodType `json:"method_type"`
	BankName      string                      `json:"bank_name"`
	BranchName    string                      `json:"branch_name"`
	AccountName   string                      `json:"account_name"`
	AccountNumber string                      `json:"account_number"`
	CryptoNetwork string                      `json:"crypto_network"`
	WalletAddress string                      `json:"wallet_address"`
	IsPrimary     bool                        `json:"is_primary"`
}

func (in *MethodInput) normalize() {
	in.BankName = strings.TrimSpace(in.BankName)
	in.BranchName = strings.TrimSpace(in.BranchName)
	in.AccountName = strings.TrimSpace(in.AccountName)
	in.AccountNumber = strings.TrimSpace(in.AccountNumber)
	in.CryptoNetwork = strings.TrimSpace(in.CryptoNetwork)
	in.WalletAddress = strings.TrimSpace(in.WalletAddress)
}

func (in MethodInput) validate() error {
	switch in.MethodType {
	case models.WithdrawalMethodBank:
		if in.BankName == "" {
			return models.NewValidationError("bank_name", "укажите банк")
		}
		if in.AccountName == "" {
			return models.NewValidationError("account_name", "укажите владельца счета")
		}
		if in.AccountNumber == "" {
			return models.NewValidationError("account_number", "укажите номер счета")
		}
	case models.WithdrawalMethodCrypto:
		if in.CryptoNetwork == "" {
			return models.NewValidationError("crypto_network", "укажите сеть")
		}
		if in.WalletAddress == "" {
			return models.NewValidationError("wallet_address", "укажите адрес кошелька")
		}
	default:
		return models.NewValidationError("method_type", "допустимы только bank и crypto")
	}
	return nil
}

// AddMethod сохраняет реквизиты. Первые реквизиты создателя становятся основными.
func (s *Service) AddMethod(ctx context.Context, creatorID uuid.UUID, in MethodInput) (*models.WithdrawalMethod, error) {
	in.normalize()
	if err := in.validate(); err != nil {
		return nil, err
	}

	method := &models.WithdrawalMethod{
		ID:            uuid.New(),
		CreatorID:     creatorID,
		MethodType:    in.MethodType,
		BankName:      in.BankName,
		BranchName:    in.BranchName,
		AccountName:   in.AccountName,
		AccountNumber: in.AccountNumber,
		CryptoNetwork: in.CryptoNetwork,
		WalletAddress: in.WalletAddress,
		CreatedAt:     s.now().UTC(),
	}

	err := s.store.WithTx(ctx, func(tx store.Store) error {
		if _, err := tx.Creator().GetForUpdate(ctx, creatorID); err != nil {
			return err
		}
		existing, err := tx.WithdrawalMethod().ListByCreator(ctx, creatorID)
		if err != nil {
			return err
		}

		if err := tx.WithdrawalMethod().Create(ctx, method); err != nil {
			return err
		}
		if len(existing) == 0 || in.IsPrimary {
			if err := tx.WithdrawalMethod().SetPrimary(ctx, creatorID, method.ID); err != nil {
				return err
			}
			method.IsPrimary = true
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка добавления реквизитов: %w", err)
	}

	s.logger.Info("реквизиты добавлены",
		zap.String("creator_id", creatorID.String()),
		zap.String("method_id", method.ID.String()),
		zap.String("method_type", string(method.MethodType)),
		zap.Bool("is_primary", method.IsPrimary))

	return method, nil
}

// ListMethods возвращает реквизиты создателя, основные первыми
func (s *Service) ListMethods(ctx context.Context, creatorID uuid.UUID) ([]*models.WithdrawalMethod, error) {
	return s.store.WithdrawalMethod().ListByCreator(ctx, creatorID)
}

// SetPrimaryMethod делает реквизиты основными
func (s *Service) SetPrimaryMethod(ctx context.Context, creatorID, methodID uuid.UUID) error {
	return s.store.WithTx(ctx, func(tx store.Store) error {
		return tx.WithdrawalMethod().SetPrimary(ctx, creatorID, methodID)
	})
}

// DefaultMethod возвращает основные реквизиты, а если их нет - самые ранние
func (s *Service) DefaultMethod(ctx context.Context, creatorID uuid.UUID) (*models.WithdrawalMethod, error) {
	methods, err := s.store.WithdrawalMethod().ListByCreator(ctx, creatorID)
	if err != nil {
		return nil, err
	}
	if len(methods) == 0 {
		return nil, fmt.Errorf("реквизиты создателя %s: %w", creatorID, models.ErrNotFound)
	}
	for _, m := range methods {
		if m.IsPrimary {
			return m, nil
		}
	}
	return methods[0], nil
}
