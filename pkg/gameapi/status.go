package gameapi

import "strings"

// Status is the canonical classification of one redemption API response.
// The set is closed: Classify maps every known (msg, err_code) shape onto
// exactly one member and everything else onto StatusUnknown, and Policy is
// an exhaustive switch over the members so a new status cannot be added
// without deciding its run-loop behaviour.
type Status string

const (
	StatusSuccess            Status = "SUCCESS"
	StatusReceived           Status = "RECEIVED"
	StatusSameTypeExchange   Status = "SAME_TYPE_EXCHANGE"
	StatusTimeError          Status = "TIME_ERROR"
	StatusCDKNotFound        Status = "CDK_NOT_FOUND"
	StatusUsageLimit         Status = "USAGE_LIMIT"
	StatusTimeoutRetry       Status = "TIMEOUT_RETRY"
	StatusTooSmallSpendMore  Status = "TOO_SMALL_SPEND_MORE"
	StatusTooPoorSpendMore   Status = "TOO_POOR_SPEND_MORE"
	StatusCaptchaInvalid     Status = "CAPTCHA_INVALID"
	StatusCaptchaExpired     Status = "CAPTCHA_EXPIRED"
	StatusCaptchaTooFrequent Status = "CAPTCHA_TOO_FREQUENT"
	StatusSignError          Status = "SIGN_ERROR"
	StatusLoginExpired       Status = "LOGIN_EXPIRED_MID_PROCESS"
	StatusMaxCaptchaAttempts Status = "MAX_CAPTCHA_ATTEMPTS_REACHED"
	StatusUnknown            Status = "UNKNOWN_API_RESPONSE"
)

func (s Status) String() string { return string(s) }

// Classify maps a raw (msg, err_code) pair from the gift-code service onto
// a canonical status. err_code wins where present; the service is sloppy
// about message punctuation so msg matching is normalized.
func Classify(msg string, errCode int) Status {
	norm := strings.ToUpper(strings.TrimSuffix(strings.TrimSpace(msg), "."))

	if strings.Contains(strings.ToLower(msg), "sign error") {
		return StatusSignError
	}

	switch errCode {
	case 40008:
		return StatusReceived
	case 40011:
		return StatusSameTypeExchange
	case 40007:
		return StatusTimeError
	case 40014:
		return StatusCDKNotFound
	case 40005:
		return StatusUsageLimit
	case 40004:
		return StatusTimeoutRetry
	case 40006:
		return StatusTooSmallSpendMore
	case 40017, 40018:
		return StatusTooPoorSpendMore
	case 40103:
		return StatusCaptchaInvalid
	case 40102:
		return StatusCaptchaExpired
	case 40100, 40101:
		return StatusCaptchaTooFrequent
	}

	switch norm {
	case "SUCCESS":
		return StatusSuccess
	case "RECEIVED":
		return StatusReceived
	case "SAME TYPE EXCHANGE":
		return StatusSameTypeExchange
	case "TIME ERROR":
		return StatusTimeError
	case "CDK NOT FOUND":
		return StatusCDKNotFound
	case "USED":
		return StatusUsageLimit
	case "TIMEOUT RETRY":
		return StatusTimeoutRetry
	case "NOT LOGIN":
		return StatusLoginExpired
	}

	return StatusUnknown
}

// RetryClass names the backoff bucket a retryable status belongs to. The
// engine maps classes to concrete delays from config.
type RetryClass int

const (
	RetryNone RetryClass = iota
	RetryTimeout
	RetrySolve
	RetryRateLimit
)

// Policy describes how the run loop treats one status.
type Policy struct {
	// Cacheable statuses are written to the member redemption cache as a
	// terminal outcome for the (member, code) pair.
	Cacheable bool
	// HaltsRun statuses invalidate the code globally and stop the current
	// alliance run.
	HaltsRun bool
	// Fatal statuses halt the run immediately without touching the code
	// (signature mismatch is a deployment problem, not a code problem).
	Fatal bool
	// Retry selects the backoff bucket; RetryNone means terminal.
	Retry RetryClass
	// CountsAgainstCycleCap limits how often the retry may recur.
	CountsAgainstCycleCap bool
	// CodeValid marks statuses that prove the code itself is redeemable.
	CodeValid bool
}

// PolicyFor is the closed policy table consumed uniformly by the run loop
// and the validator.
func PolicyFor(s Status) Policy {
	switch s {
	case StatusSuccess:
		return Policy{Cacheable: true, CodeValid: true}
	case StatusReceived:
		return Policy{Cacheable: true, CodeValid: true}
	case StatusSameTypeExchange:
		return Policy{Cacheable: true, CodeValid: true}
	case StatusTooSmallSpendMore:
		return Policy{CodeValid: true}
	case StatusTooPoorSpendMore:
		return Policy{CodeValid: true}
	case StatusTimeError:
		return Policy{Cacheable: true, HaltsRun: true}
	case StatusCDKNotFound:
		return Policy{Cacheable: true, HaltsRun: true}
	case StatusUsageLimit:
		return Policy{Cacheable: true, HaltsRun: true}
	case StatusTimeoutRetry:
		return Policy{Retry: RetryTimeout}
	case StatusLoginExpired:
		return Policy{Retry: RetryTimeout}
	case StatusCaptchaInvalid:
		return Policy{Retry: RetrySolve, CountsAgainstCycleCap: true}
	case StatusCaptchaExpired:
		return Policy{Retry: RetrySolve, CountsAgainstCycleCap: true}
	case StatusCaptchaTooFrequent:
		return Policy{Retry: RetryRateLimit}
	case StatusMaxCaptchaAttempts:
		return Policy{Retry: RetrySolve, CountsAgainstCycleCap: true}
	case StatusSignError:
		return Policy{Fatal: true}
	case StatusUnknown:
		return Policy{}
	}
	// Unreachable for the closed set; an unclassified value behaves like
	// StatusUnknown (terminal failure, logged by the caller).
	return Policy{}
}

// Terminal reports whether the status ends processing for the member
// without halting the run.
func (p Policy) Terminal() bool {
	return !p.Fatal && !p.HaltsRun && p.Retry == RetryNone
}
