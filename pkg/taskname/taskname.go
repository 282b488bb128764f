package taskname

const (
	CodeValidate = "code:validate"
	CodeRedeem   = "code:redeem"
)
