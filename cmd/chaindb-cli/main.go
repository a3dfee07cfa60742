// chaindb-cli is a small operator tool over the chain database
// provider: inspect stage checkpoints, dump a block, or run an unwind.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/alecthomas/kong"
	log "github.com/erigontech/erigon-lib/log/v3"

	"github.com/erigontech/chaindb/chaindb"
	"github.com/erigontech/chaindb/kv/mdbxkv"
	"github.com/erigontech/chaindb/staticfile"
)

type cli struct {
	Datadir string `help:"Data directory holding chaindata and static files." default:"./datadir"`

	Checkpoints  checkpointsCmd  `cmd:"" help:"Print every stage checkpoint."`
	InspectBlock inspectBlockCmd `cmd:"" name:"inspect-block" help:"Dump one block's header and body summary."`
	Unwind       unwindCmd       `cmd:"" help:"Unwind the chain back to a block number."`
}

type env struct {
	db     *mdbxkv.DB
	static *staticfile.Provider
}

func openEnv(datadir string) (*env, error) {
	db, err := mdbxkv.Open(filepath.Join(datadir, "chaindata"))
	if err != nil {
		return nil, err
	}
	static, err := staticfile.Open(filepath.Join(datadir, "static"))
	if err != nil {
		db.Close()
		return nil, err
	}
	return &env{db: db, static: static}, nil
}

func (e *env) close() {
	e.static.Close()
	e.db.Close()
}

type checkpointsCmd struct{}

func (c *checkpointsCmd) Run(root *cli) error {
	e, err := openEnv(root.Datadir)
	if err != nil {
		return err
	}
	defer e.close()

	provider, err := chaindb.NewProviderRO(context.Background(), e.db, e.static, nil)
	if err != nil {
		return err
	}
	defer provider.Rollback()

	for _, stage := range chaindb.AllStageIDs {
		n, err := chaindb.GetStageCheckpoint(provider.Tx(), stage)
		if err != nil {
			return err
		}
		fmt.Printf("%-22s %d\n", stage, n)
	}
	return nil
}

type inspectBlockCmd struct {
	Number uint64 `arg:"" help:"Block number to inspect."`
}

func (c *inspectBlockCmd) Run(root *cli) error {
	e, err := openEnv(root.Datadir)
	if err != nil {
		return err
	}
	defer e.close()

	provider, err := chaindb.NewProviderRO(context.Background(), e.db, e.static, nil)
	if err != nil {
		return err
	}
	defer provider.Rollback()

	block, err := provider.BlockWithSenders(chaindb.BlockNumberID(c.Number))
	if err != nil {
		return err
	}
	if block == nil {
		return fmt.Errorf("block %d not found", c.Number)
	}
	hash, err := block.Header.Hash()
	if err != nil {
		return err
	}
	fmt.Printf("block      %d\n", block.Header.Number)
	fmt.Printf("hash       %x\n", hash)
	fmt.Printf("parent     %x\n", block.Header.ParentHash)
	fmt.Printf("state root %x\n", block.Header.Root)
	fmt.Printf("time       %d\n", block.Header.Time)
	fmt.Printf("txs        %d\n", len(block.Transactions))
	fmt.Printf("ommers     %d\n", len(block.Ommers))
	fmt.Printf("withdrawals %d\n", len(block.Withdrawals))
	for i, txn := range block.Transactions {
		txHash, err := txn.Transaction.Hash()
		if err != nil {
			return err
		}
		fmt.Printf("  tx %-4d %x from %x\n", i, txHash, txn.Sender)
	}
	return nil
}

type unwindCmd struct {
	To uint64 `arg:"" help:"Block number to unwind back to (new tip)."`
}

func (c *unwindCmd) Run(root *cli) error {
	e, err := openEnv(root.Datadir)
	if err != nil {
		return err
	}
	defer e.close()

	provider, err := chaindb.NewProviderRW(context.Background(), e.db, e.static, nil)
	if err != nil {
		return err
	}
	defer provider.Rollback()

	tip, err := provider.LastBlockNumber()
	if err != nil {
		return err
	}
	if c.To >= tip {
		return fmt.Errorf("chain tip is %d, nothing to unwind", tip)
	}
	chain, err := provider.UnwindBlockRange(c.To+1, tip)
	if err != nil {
		return err
	}
	if err := provider.Commit(); err != nil {
		return err
	}
	log.Info("unwound chain", "newTip", c.To, "removedBlocks", len(chain.Blocks))
	return nil
}

func main() {
	log.Root().SetHandler(log.LvlFilterHandler(log.LvlInfo, log.StderrHandler))
	var root cli
	ctx := kong.Parse(&root,
		kong.Name("chaindb-cli"),
		kong.Description("Chain database inspection and maintenance."),
		kong.UsageOnError(),
	)
	if err := ctx.Run(&root); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
