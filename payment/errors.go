package payment

// Code is one of the client-visible error codes from §7's taxonomy.
type Code string

const (
	CodeUnknownCapability Code = "UNKNOWN_CAPABILITY"
	CodePaymentRequired   Code = "PAYMENT_REQUIRED"
	CodePaymentReplay     Code = "PAYMENT_REPLAY"
	CodePaymentInvalid    Code = "PAYMENT_INVALID"
	CodeUnderpayment      Code = "UNDERPAYMENT"
	CodeMissingFee        Code = "MISSING_FEE"
	CodeMalformedPayment  Code = "MALFORMED_PAYMENT"
)

// Failure pairs an HTTP status with a client-visible code and message.
type Failure struct {
	Status  int
	Code    Code
	Message string
}

func (f *Failure) Error() string {
	return string(f.Code) + ": " + f.Message
}

func fail(status int, code Code, message string) *Failure {
	return &Failure{Status: status, Code: code, Message: message}
}
