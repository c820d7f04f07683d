package validation

import (
	"math/big"
	"testing"

	"sentinel/pkg/models"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func newRequest() *models.TransactionRequest {
	return models.NewTransactionRequest(
		common.HexToAddress("0x1234567890abcdef1234567890abcdef12345678"),
		common.HexToAddress("0xabcdefabcdefabcdefabcdefabcdefabcdefabcd"),
		common.FromHex("0xa9059cbb"),
		big.NewInt(0),
		1,
	)
}

func TestNewValidator(t *testing.T) {
	validator := NewValidator(logrus.New(), true)

	assert.NotNil(t, validator)
	assert.True(t, validator.strictMode)
	assert.Equal(t, 3, len(validator.rules))
}

func TestValidateRequest_Valid(t *testing.T) {
	validator := NewValidator(logrus.New(), false)

	result := validator.ValidateRequest(newRequest())

	assert.True(t, result.Valid)
	assert.Empty(t, result.Errors)
}

func TestValidateRequest_Nil(t *testing.T) {
	validator := NewValidator(logrus.New(), false)

	result := validator.ValidateRequest(nil)

	assert.False(t, result.Valid)
	assert.NotEmpty(t, result.Errors)
}

func TestValidateRequest_ZeroToAddress(t *testing.T) {
	validator := NewValidator(logrus.New(), false)

	req := newRequest()
	req.To = common.Address{}
	result := validator.ValidateRequest(req)

	assert.False(t, result.Valid)
	assert.Equal(t, "INVALID_TO_ADDRESS", result.Errors[0].Code)
}

func TestValidateRequest_UnrecognizedChain(t *testing.T) {
	validator := NewValidator(logrus.New(), false)

	req := newRequest()
	req.ChainID = 999999
	result := validator.ValidateRequest(req)

	assert.False(t, result.Valid)
}

func TestValidateRequest_TruncatedCalldata(t *testing.T) {
	validator := NewValidator(logrus.New(), false)

	req := newRequest()
	req.Data = []byte{0xa9, 0x05}
	result := validator.ValidateRequest(req)

	assert.False(t, result.Valid)
}

func TestValidateRequest_OversizedCalldata(t *testing.T) {
	validator := NewValidator(logrus.New(), false)

	req := newRequest()
	req.Data = make([]byte, MaxCalldataBytes+1)
	result := validator.ValidateRequest(req)

	assert.False(t, result.Valid)
}

func TestValidateRequest_NegativeValue(t *testing.T) {
	validator := NewValidator(logrus.New(), false)

	req := newRequest()
	req.Value = big.NewInt(-1)
	result := validator.ValidateRequest(req)

	assert.False(t, result.Valid)
}

func TestValidateRequest_EmptyCalldataIsTransfer(t *testing.T) {
	validator := NewValidator(logrus.New(), false)

	req := newRequest()
	req.Data = nil
	result := validator.ValidateRequest(req)

	assert.True(t, result.Valid)
}

func TestStrictModeTurnsWarningsIntoFailure(t *testing.T) {
	validator := NewValidator(logrus.New(), true)

	req := newRequest()
	req.From = common.Address{}
	result := validator.ValidateRequest(req)

	assert.False(t, result.Valid)
	assert.NotEmpty(t, result.Warnings)
}

func TestIsValidAddressString(t *testing.T) {
	assert.True(t, IsValidAddressString("0x1234567890abcdef1234567890abcdef12345678"))
	assert.False(t, IsValidAddressString("1234567890abcdef1234567890abcdef12345678"))
	assert.False(t, IsValidAddressString("0x1234"))
}
