package city

// Economy converts structure levels into ledger income.
type Economy struct {
	reg    *Registry
	ledger *Ledger
}

func NewEconomy(reg *Registry, ledger *Ledger) *Economy {
	return &Economy{reg: reg, ledger: ledger}
}

// Tick sums the current-level income of every structure and credits it in a
// single Earn. A zero total leaves the ledger untouched and publishes nothing.
func (e *Economy) Tick() Income {
	total := Zero
	for _, s := range e.reg.Structures() {
		total = total.Add(s.CurrentLevel().Income)
	}
	if !total.IsZero() {
		e.ledger.Earn(total)
	}
	return total
}
