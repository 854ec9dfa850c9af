// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

// limod is the settlement core's operator tool. It initializes the global
// configuration record, inspects the record store, and applies transaction
// batches from replay files.
package main

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"

	"github.com/Kamino-Finance/limo/account"
	"github.com/Kamino-Finance/limo/market"
	"github.com/Kamino-Finance/limo/order"
	"github.com/Kamino-Finance/limo/program"
	"github.com/Kamino-Finance/limo/store"
	"github.com/Kamino-Finance/limo/tx"
	"github.com/Kamino-Finance/limo/vault"
)

const version = "0.1.0"

// defaultProgramID is the address the settlement program executes as when no
// --programid is configured.
var defaultProgramID = account.AccountID(account.HashFunc([]byte("program:limo")))

// jsonAccount is an instruction account reference in a replay file. Key is a
// hex account address or compressed pubkey.
type jsonAccount struct {
	Key    string `json:"key"`
	Signer bool   `json:"signer,omitempty"`
}

// jsonInstruction carries one instruction of a replay transaction. Data is the
// hex-encoded payload, discriminator included.
type jsonInstruction struct {
	Program  string        `json:"program"`
	Accounts []jsonAccount `json:"accounts"`
	Data     string        `json:"data"`
}

type jsonTx struct {
	Instructions []jsonInstruction `json:"instructions"`
}

// jsonCredit seeds a ledger balance before the replayed transactions run. An
// empty mint credits the native balance.
type jsonCredit struct {
	Account string `json:"account"`
	Mint    string `json:"mint,omitempty"`
	Amount  uint64 `json:"amount"`
}

// replayFile is the top-level structure of a --replay input.
type replayFile struct {
	Credits      []jsonCredit `json:"credits,omitempty"`
	Transactions []jsonTx     `json:"transactions"`
}

func decodeTx(jtx *jsonTx) (*tx.Tx, error) {
	transaction := &tx.Tx{Instructions: make([]tx.Instruction, 0, len(jtx.Instructions))}
	for i := range jtx.Instructions {
		jin := &jtx.Instructions[i]
		programID, err := account.DecodeID(jin.Program)
		if err != nil {
			return nil, fmt.Errorf("instruction %d program: %v", i, err)
		}
		data, err := hex.DecodeString(jin.Data)
		if err != nil {
			return nil, fmt.Errorf("instruction %d data: %v", i, err)
		}
		metas := make([]tx.AccountMeta, 0, len(jin.Accounts))
		for j, jacct := range jin.Accounts {
			key, err := account.DecodeAddress(jacct.Key)
			if err != nil {
				return nil, fmt.Errorf("instruction %d account %d: %v", i, j, err)
			}
			metas = append(metas, tx.AccountMeta{Key: key, Signer: jacct.Signer})
		}
		transaction.Instructions = append(transaction.Instructions, tx.Instruction{
			ProgramID: programID,
			Accounts:  metas,
			Data:      data,
		})
	}
	return transaction, nil
}

func applyCredits(ledger *vault.Ledger, credits []jsonCredit) error {
	for i, credit := range credits {
		acct, err := account.DecodeAddress(credit.Account)
		if err != nil {
			return fmt.Errorf("credit %d account: %v", i, err)
		}
		if credit.Mint == "" {
			if err = ledger.CreditNative(acct, credit.Amount); err != nil {
				return fmt.Errorf("credit %d: %v", i, err)
			}
			continue
		}
		mint, err := account.DecodeID(credit.Mint)
		if err != nil {
			return fmt.Errorf("credit %d mint: %v", i, err)
		}
		if err = ledger.CreditToken(mint, acct, credit.Amount); err != nil {
			return fmt.Errorf("credit %d: %v", i, err)
		}
	}
	return nil
}

func replay(p *program.Program, ledger *vault.Ledger, path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var rf replayFile
	if err = json.Unmarshal(b, &rf); err != nil {
		return fmt.Errorf("malformed replay file %s: %v", path, err)
	}
	if err = applyCredits(ledger, rf.Credits); err != nil {
		return err
	}
	for i := range rf.Transactions {
		transaction, err := decodeTx(&rf.Transactions[i])
		if err != nil {
			return fmt.Errorf("transaction %d: %v", i, err)
		}
		if err = p.Execute(transaction); err != nil {
			return fmt.Errorf("transaction %d: %v", i, err)
		}
		log.Infof("applied transaction %d (%d instructions)", i, len(transaction.Instructions))
	}
	return nil
}

func initGlobalConfig(p *program.Program, programID, admin account.AccountID) error {
	// The config record address is derived from the admin so repeated --init
	// runs are idempotent in address terms.
	cfgID, _ := account.Derive([]byte("global_config"), admin[:])
	transaction := &tx.Tx{Instructions: []tx.Instruction{
		tx.NewInstruction(programID, tx.InitializeGlobalConfigIx, nil,
			tx.AccountMeta{Key: admin, Signer: true},
			tx.AccountMeta{Key: cfgID}),
	}}
	if err := p.Execute(transaction); err != nil {
		return err
	}
	fmt.Printf("initialized global config %s, admin %s\n", cfgID, admin)
	return nil
}

func showConfig(db *store.DB) error {
	var cfg *market.GlobalConfig
	err := db.View(func(txn *store.Txn) error {
		var err error
		cfg, err = txn.Config()
		return err
	})
	if err != nil {
		return err
	}
	fmt.Printf("admin:                  %s\n", cfg.AdminAuthority)
	fmt.Printf("staged admin:           %s\n", cfg.AdminAuthorityCached)
	fmt.Printf("authority:              %s\n", cfg.Authority)
	fmt.Printf("emergency mode:         %d\n", cfg.EmergencyMode)
	fmt.Printf("flash taking blocked:   %d\n", cfg.FlashTakeOrderBlocked)
	fmt.Printf("new orders blocked:     %d\n", cfg.NewOrdersBlocked)
	fmt.Printf("order taking blocked:   %d\n", cfg.OrdersTakingBlocked)
	fmt.Printf("host fee bps:           %d\n", cfg.HostFeeBps)
	fmt.Printf("order close delay (s):  %d\n", cfg.OrderCloseDelaySeconds)
	fmt.Printf("total tip amount:       %d\n", cfg.TotalTipAmount)
	fmt.Printf("host tip amount:        %d\n", cfg.HostTipAmount)
	return nil
}

func listOrders(db *store.DB) error {
	count := 0
	err := db.View(func(txn *store.Txn) error {
		return txn.Orders(func(oid account.AccountID, o *order.Order) (bool, error) {
			fmt.Printf("%s %s %s->%s remaining %d/%d filled %d/%d fills %d tip %d\n",
				oid, o.Status, o.InputMint, o.OutputMint,
				o.RemainingInputAmount, o.InitialInputAmount,
				o.FilledOutputAmount, o.ExpectedOutputAmount,
				o.NumberOfFills, o.TipAmount)
			count++
			return true, nil
		})
	})
	if err != nil {
		return err
	}
	fmt.Printf("%d orders\n", count)
	return nil
}

func mainCore() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	defer func() {
		if logRotator != nil {
			logRotator.Close()
		}
	}()

	db, err := store.New(&store.Config{
		Path: cfg.DataDir,
		Log:  cfg.LogMaker.NewLogger("DB"),
	})
	if err != nil {
		return fmt.Errorf("unable to open record store: %v", err)
	}
	defer db.Close()

	ledger := vault.NewLedger()
	p := program.New(&program.Config{
		ID:     cfg.ProgramID,
		DB:     db,
		Ledger: ledger,
		Log:    cfg.LogMaker.NewLogger("PROG"),
	})

	switch {
	case cfg.Init:
		return initGlobalConfig(p, cfg.ProgramID, cfg.Admin)
	case cfg.ShowConfig:
		return showConfig(db)
	case cfg.ListOrders:
		return listOrders(db)
	case cfg.ReplayFile != "":
		return replay(p, ledger, cfg.ReplayFile)
	}
	return fmt.Errorf("no command specified, use one of --init, --showconfig, --orders, --replay")
}

func main() {
	if err := mainCore(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
