package sol

import "github.com/gagliardetto/solana-go"

// WSOL is the wrapped-SOL mint address, the quote side every pool price is
// ultimately expressed against (spec §4.4.4: "If one side is wrapped SOL,
// the price is expressed as SOL-per-token").
var WSOL = solana.WrappedSol
