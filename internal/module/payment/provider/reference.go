package provider

import (
	"strconv"
	"time"

	"github.com/uniedit/paygate/internal/module/payment/domain"
	"github.com/uniedit/paygate/internal/utils/random"
)

const referenceSuffixLength = 10

// GenerateReference builds "{PREFIX}-{unixMillis}-{randomAlnum}" for a gateway.
func GenerateReference(gateway domain.Gateway, now time.Time) string {
	return gateway.ReferencePrefix() + "-" +
		strconv.FormatInt(now.UnixMilli(), 10) + "-" +
		random.LowerAlphaNum(referenceSuffixLength)
}

// GenerateRefundReference builds a refund reference derived from the payment reference.
func GenerateRefundReference(reference string, now time.Time) string {
	return reference + "-RF-" + strconv.FormatInt(now.UnixMilli(), 10)
}
