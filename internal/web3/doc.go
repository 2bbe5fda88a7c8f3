// Package web3 houses blockchain connectivity for route execution: chain
// metadata, the chain client and account contracts, and the YAML chain
// definitions loaded at startup. Concrete EVM support lives in the ethereum
// subpackage, the explicit chain registry in provider and local signing in
// wallet.
package web3
