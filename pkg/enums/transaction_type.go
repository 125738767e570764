package enums

// TransactionType discriminates rows in the transactions table.
type TransactionType string

const (
	TransactionTypePixIn  TransactionType = "pix_in"
	TransactionTypePixOut TransactionType = "pix_out"
)

// String implements fmt.Stringer.
func (t TransactionType) String() string {
	return string(t)
}

// IsValid reports whether the value is a known TransactionType.
func (t TransactionType) IsValid() bool {
	return t == TransactionTypePixIn || t == TransactionTypePixOut
}
