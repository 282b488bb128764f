package rediskey

import "fmt"

// Gift-code keys (global convention across the engine)
const (
	CodeValidPrefix     = "giftcode:valid"
	BatchProgressPrefix = "giftcode:batch"
)

func NamespaceKey(namespace, key string) string {
	return fmt.Sprintf("%s:%s", namespace, key)
}

// BuildCodeValidKey returns "giftcode:valid:{code}"
func BuildCodeValidKey(code string) string {
	return NamespaceKey(CodeValidPrefix, code)
}

// BuildBatchProgressKey returns "giftcode:batch:{batchID}"
func BuildBatchProgressKey(batchID string) string {
	return NamespaceKey(BatchProgressPrefix, batchID)
}
