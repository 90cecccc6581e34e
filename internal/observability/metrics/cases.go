package metrics

// CaseOperation records a lifecycle operation and its result label.
func CaseOperation(operation, result string) {
	if !enabled {
		return
	}
	caseOperationTotal.WithLabelValues(operation, result).Inc()
}

// EscrowSnapshot records the current escrow total and active case count.
func EscrowSnapshot(totalEscrow uint64, active int) {
	if !enabled {
		return
	}
	caseEscrowTotal.Set(float64(totalEscrow))
	caseActive.Set(float64(active))
}

// LedgerMovement records a ledger movement of the given kind.
func LedgerMovement(kind, result string) {
	if !enabled {
		return
	}
	ledgerMovementTotal.WithLabelValues(kind, result).Inc()
}

// SweepExpired records cases expired by one sweeper pass.
func SweepExpired(n int) {
	if !enabled || n <= 0 {
		return
	}
	expirySweepExpired.Add(float64(n))
}
