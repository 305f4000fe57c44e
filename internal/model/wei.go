package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/params"
)

// Wei is an arbitrary-precision amount in the chain's smallest unit. It is
// stored as a decimal string so no precision is lost on any driver.
type Wei struct {
	v *big.Int
}

func NewWei(v *big.Int) Wei {
	if v == nil {
		return Wei{}
	}
	return Wei{v: new(big.Int).Set(v)}
}

func WeiFromInt64(v int64) Wei {
	return Wei{v: big.NewInt(v)}
}

// ParseWei parses a base-10 integer string.
func ParseWei(s string) (Wei, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Wei{}, nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return Wei{}, fmt.Errorf("invalid wei amount %q", s)
	}
	if v.Sign() < 0 {
		return Wei{}, fmt.Errorf("negative wei amount %q", s)
	}
	return Wei{v: v}, nil
}

// Big returns a copy of the underlying value; zero when unset.
func (w Wei) Big() *big.Int {
	if w.v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(w.v)
}

func (w Wei) IsZero() bool {
	return w.v == nil || w.v.Sign() == 0
}

func (w Wei) Cmp(o Wei) int {
	return w.Big().Cmp(o.Big())
}

func (w Wei) String() string {
	if w.v == nil {
		return "0"
	}
	return w.v.String()
}

// Ether renders the amount in ether for display only.
func (w Wei) Ether() string {
	r := new(big.Rat).SetFrac(w.Big(), big.NewInt(params.Ether))
	s := r.FloatString(18)
	s = strings.TrimRight(s, "0")
	return strings.TrimSuffix(s, ".")
}

func (w *Wei) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		w.v = nil
		return nil
	case string:
		parsed, err := ParseWei(v)
		if err != nil {
			return err
		}
		*w = parsed
		return nil
	case []byte:
		return w.Scan(string(v))
	case int64:
		w.v = big.NewInt(v)
		return nil
	default:
		return fmt.Errorf("cannot scan %T into Wei", src)
	}
}

func (w Wei) Value() (driver.Value, error) {
	return w.String(), nil
}

func (w Wei) MarshalJSON() ([]byte, error) {
	return json.Marshal(w.String())
}

// UnmarshalJSON accepts both "123" and 123.
func (w *Wei) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "null" {
		w.v = nil
		return nil
	}
	parsed, err := ParseWei(s)
	if err != nil {
		return err
	}
	*w = parsed
	return nil
}
