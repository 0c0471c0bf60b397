package solana

import (
	"fmt"
	"sort"
)

// NetworkConfig describes a Solana cluster.
// ChainID is the identifier devices expect in multi-path sign headers.
type NetworkConfig struct {
	Name           string   `yaml:"name"`
	ChainID        uint16   `yaml:"chain_id"`
	RPCURLs        []string `yaml:"rpc_urls"`
	ExplorerURL    string   `yaml:"explorer_url"`
	Cluster        string   `yaml:"cluster"`
	NativeCurrency string   `yaml:"native_currency"`
	IsTestnet      bool     `yaml:"is_testnet"`
}

// DefaultNetworks returns the built-in cluster configurations
func DefaultNetworks() map[string]*NetworkConfig {
	return map[string]*NetworkConfig{
		"mainnet-beta": {
			Name:           "Solana Mainnet Beta",
			ChainID:        0,
			RPCURLs:        []string{"https://api.mainnet-beta.solana.com"},
			ExplorerURL:    "https://explorer.solana.com",
			NativeCurrency: "SOL",
			IsTestnet:      false,
		},
		"devnet": {
			Name:           "Solana Devnet",
			ChainID:        1,
			RPCURLs:        []string{"https://api.devnet.solana.com"},
			ExplorerURL:    "https://explorer.solana.com",
			Cluster:        "devnet",
			NativeCurrency: "SOL",
			IsTestnet:      true,
		},
		"testnet": {
			Name:           "Solana Testnet",
			ChainID:        2,
			RPCURLs:        []string{"https://api.testnet.solana.com"},
			ExplorerURL:    "https://explorer.solana.com",
			Cluster:        "testnet",
			NativeCurrency: "SOL",
			IsTestnet:      true,
		},
	}
}

// LookupNetwork returns the named default network.
func LookupNetwork(name string) (*NetworkConfig, error) {
	cfg, ok := DefaultNetworks()[name]
	if !ok {
		return nil, fmt.Errorf("unknown network: %s (known: %v)", name, NetworkNames())
	}
	return cfg, nil
}

// NetworkNames lists the default network names, sorted.
func NetworkNames() []string {
	nets := DefaultNetworks()
	names := make([]string, 0, len(nets))
	for name := range nets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// TxURL links a transaction signature on the network's explorer.
func (n *NetworkConfig) TxURL(signature string) string {
	url := fmt.Sprintf("%s/tx/%s", n.ExplorerURL, signature)
	if n.Cluster != "" {
		url += "?cluster=" + n.Cluster
	}
	return url
}

// AddressURL links an account on the network's explorer.
func (n *NetworkConfig) AddressURL(address string) string {
	url := fmt.Sprintf("%s/address/%s", n.ExplorerURL, address)
	if n.Cluster != "" {
		url += "?cluster=" + n.Cluster
	}
	return url
}
