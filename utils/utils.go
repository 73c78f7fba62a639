package utils

import (
	"crypto/md5"
	"sort"
	"strconv"
	"strings"

	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"
)

func GenUuidFromStrings(uuids ...string) string {
	if len(uuids) == 0 {
		uuids = append(uuids, "00000000-0000-0000-0000-000000000000")
	}

	// Sort the inputs so the same set always yields the same id
	sorted := make([]string, len(uuids))
	copy(sorted, uuids)
	sort.Strings(sorted)

	return uuidHash([]byte(strings.Join(sorted, "")))
}

// MustUuidFromStrings is GenUuidFromStrings parsed into a uuid.UUID.
func MustUuidFromStrings(parts ...string) uuid.UUID {
	return uuid.Must(uuid.FromString(GenUuidFromStrings(parts...)))
}

// SequenceUuid derives the handle of the n-th record under a namespace.
func SequenceUuid(namespace uuid.UUID, kind string, n uint64) uuid.UUID {
	return MustUuidFromStrings(namespace.String(), kind+"#"+strconv.FormatUint(n, 10))
}

func uuidHash(b []byte) string {
	h := md5.New()

	h.Write(b)
	sum := h.Sum(nil)
	sum[6] = (sum[6] & 0x0f) | 0x30
	sum[8] = (sum[8] & 0x3f) | 0x80
	return uuid.FromBytesOrNil(sum).String()
}

// Floor rounds toward negative infinity at the given divisibility.
func Floor(d decimal.Decimal, divisibility int32) decimal.Decimal {
	return d.RoundFloor(divisibility)
}

// Ceil rounds toward positive infinity at the given divisibility.
func Ceil(d decimal.Decimal, divisibility int32) decimal.Decimal {
	return d.RoundCeil(divisibility)
}

// DivFloor divides exactly and truncates toward negative infinity at the
// given divisibility. Plain Div rounds half up at 16 digits.
func DivFloor(d, d2 decimal.Decimal, divisibility int32) decimal.Decimal {
	q, r := d.QuoRem(d2, divisibility)
	if !r.IsZero() && r.Sign() != d2.Sign() {
		q = q.Sub(decimal.New(1, -divisibility))
	}
	return q
}

// DivCeil divides exactly and rounds toward positive infinity at the given
// divisibility.
func DivCeil(d, d2 decimal.Decimal, divisibility int32) decimal.Decimal {
	q, r := d.QuoRem(d2, divisibility)
	if !r.IsZero() && r.Sign() == d2.Sign() {
		q = q.Add(decimal.New(1, -divisibility))
	}
	return q
}
