package identity

import (
	"strings"

	goerrors "github.com/goliatone/go-errors"
	"github.com/nyaruka/phonenumbers"
)

// DefaultPhoneRegion is the region used to interpret national-format phone
// numbers. The marketplace operates in Sri Lanka.
const DefaultPhoneRegion = "LK"

// NormalizePhone parses the input against the region and returns it in E.164
// format. Empty input passes through; unparseable input is a validation
// error.
func NormalizePhone(phone, region string) (string, error) {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return "", nil
	}
	if region == "" {
		region = DefaultPhoneRegion
	}

	parsed, err := phonenumbers.Parse(phone, region)
	if err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryValidation, "invalid phone number").
			WithTextCode("INVALID_PHONE").
			WithCode(goerrors.CodeBadRequest)
	}

	if !phonenumbers.IsValidNumber(parsed) {
		return "", goerrors.New("invalid phone number for region "+region, goerrors.CategoryValidation).
			WithTextCode("INVALID_PHONE").
			WithCode(goerrors.CodeBadRequest)
	}

	return phonenumbers.Format(parsed, phonenumbers.E164), nil
}
