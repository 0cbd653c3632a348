// Package wallet tracks how much of a shared account balance each trader has
// claimed, so traders initializing on the same wallet split it fairly.
package wallet

import (
	"sort"
	"sync"

	"leveraged/internal/core"
)

// Key identifies one trader's allocation on one wallet
type Key struct {
	Broker    string `json:"broker"`
	Wallet    string `json:"wallet"`
	Symbol    string `json:"symbol"`
	TraderUID string `json:"trader_uid"`
}

func (k Key) sameWallet(o Key) bool {
	return k.Broker == o.Broker && k.Wallet == o.Wallet && k.Symbol == o.Symbol
}

func (k Key) less(o Key) bool {
	if k.Broker != o.Broker {
		return k.Broker < o.Broker
	}
	if k.Symbol != o.Symbol {
		return k.Symbol < o.Symbol
	}
	if k.Wallet != o.Wallet {
		return k.Wallet < o.Wallet
	}
	return k.TraderUID < o.TraderUID
}

// Allocation is the result of a wallet query
type Allocation struct {
	ThisTrader   float64
	OtherTraders float64
	// Traders counts the other traders holding an allocation
	Traders int
}

// Row is one entry of the allocation table
type Row struct {
	Key
	Allocation float64 `json:"allocation"`
}

// DB is the allocation table. It is safe for concurrent use.
type DB struct {
	mu    sync.RWMutex
	table map[Key]float64
}

func NewDB() *DB {
	return &DB{table: make(map[Key]float64)}
}

// Alloc records the allocation of a trader. Zero removes the record.
func (db *DB) Alloc(key Key, allocation float64) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if allocation == 0 {
		delete(db.table, key)
		return
	}
	db.table[key] = allocation
}

// Query sums the allocations on the wallet of key
func (db *DB) Query(key Key) Allocation {
	db.mu.RLock()
	defer db.mu.RUnlock()
	var r Allocation
	for k, v := range db.table {
		if !k.sameWallet(key) {
			continue
		}
		if k.TraderUID == key.TraderUID {
			r.ThisTrader += v
		} else {
			r.OtherTraders += v
			r.Traders++
		}
	}
	return r
}

// AdjBalance returns the part of balance belonging to the trader of key.
// When the wallet holds less than all traders claimed, it is split in
// proportion to the claims, or evenly when the trader has no claim yet.
// Otherwise the trader gets everything the others did not claim.
func (db *DB) AdjBalance(key Key, balance float64) float64 {
	r := db.Query(key)
	total := r.ThisTrader + r.OtherTraders
	if balance < total {
		if r.ThisTrader == 0 || total == 0 {
			return balance / float64(r.Traders+1)
		}
		return r.ThisTrader / total * balance
	}
	return balance - r.OtherTraders
}

// Clear drops every allocation
func (db *DB) Clear() {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.table = make(map[Key]float64)
}

// Dump returns the table ordered by broker, symbol, wallet and trader
func (db *DB) Dump() []Row {
	db.mu.RLock()
	rows := make([]Row, 0, len(db.table))
	for k, v := range db.table {
		rows = append(rows, Row{Key: k, Allocation: v})
	}
	db.mu.RUnlock()
	sort.Slice(rows, func(i, j int) bool { return rows[i].Key.less(rows[j].Key) })
	return rows
}

// Bind returns a balance adjuster answering for the trader of key
func (db *DB) Bind(key Key) core.IBalanceAdjuster {
	return boundKey{db: db, key: key}
}

type boundKey struct {
	db  *DB
	key Key
}

func (b boundKey) AdjBalance(balance float64) float64 {
	return b.db.AdjBalance(b.key, balance)
}
