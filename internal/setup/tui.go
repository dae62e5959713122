package setup

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"

	"github.com/collatfi/collat/config"
)

var (
	subtle    = lipgloss.AdaptiveColor{Light: "#D9DCCF", Dark: "#383838"}
	highlight = lipgloss.AdaptiveColor{Light: "#874BFD", Dark: "#7D56F4"}
	special   = lipgloss.AdaptiveColor{Light: "#43BF6D", Dark: "#73F59F"}

	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Background(highlight).
			Padding(1, 2).
			Bold(true).
			MarginBottom(1)

	stepStyle = lipgloss.NewStyle().
			Foreground(special).
			Bold(true).
			MarginTop(1).
			MarginBottom(0)
)

// RunTUI launches the terminal configuration wizard.
func RunTUI() error {
	var (
		rpcURL          string
		chainIDStr      string
		poolAddr        string
		oracleAddr      string
		pollIntervalStr string
		watchAddrsStr   string
		webAddr         string
		confirm         bool
	)

	// defaults
	rpcURL = "http://localhost:8545"
	chainIDStr = "1"
	pollIntervalStr = "15s"
	webAddr = ":8080"

	// step 1: welcome
	fmt.Print("\033[H\033[2J") // Clear screen
	fmt.Println(headerStyle.Render("COLLAT CONFIG WIZARD"))
	fmt.Println(lipgloss.NewStyle().Foreground(subtle).Render("Point the client at your lending protocol.\n"))

	// connection
	fmt.Println(stepStyle.Render("STEP 1: CONNECTION"))
	err := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("JSON-RPC Endpoint").
				Description("e.g. https://mainnet.infura.io/v3/KEY").
				Value(&rpcURL).
				Validate(func(s string) error {
					if s == "" {
						return fmt.Errorf("endpoint cannot be empty")
					}
					return nil
				}),
			huh.NewInput().
				Title("Chain ID").
				Description("The network the protocol is deployed on (e.g. 1)").
				Value(&chainIDStr).
				Validate(func(s string) error {
					_, err := strconv.ParseInt(s, 10, 64)
					return err
				}),
		),
	).Run()
	if err != nil {
		return err
	}

	// contracts
	fmt.Print("\033[H\033[2J")
	fmt.Println(headerStyle.Render("COLLAT CONFIG WIZARD"))
	fmt.Println(stepStyle.Render("STEP 2: CONTRACTS"))
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Lending Pool Address").
				Value(&poolAddr).
				Validate(validateAddress),
			huh.NewInput().
				Title("Price Oracle Address").
				Value(&oracleAddr).
				Validate(validateAddress),
		),
	).Run()
	if err != nil {
		return err
	}

	// tokens
	fmt.Print("\033[H\033[2J")
	fmt.Println(headerStyle.Render("COLLAT CONFIG WIZARD"))
	fmt.Println(stepStyle.Render("STEP 3: TOKENS"))

	var tokens []config.TokenTmp
	for {
		var (
			tokenAddr   string
			tokenSymbol string
			decimalsStr = "18"
			addAnother  bool
		)
		err = huh.NewForm(
			huh.NewGroup(
				huh.NewInput().
					Title("Token Address").
					Value(&tokenAddr).
					Validate(validateAddress),
				huh.NewInput().
					Title("Symbol").
					Description("e.g. WETH").
					Value(&tokenSymbol).
					Validate(func(s string) error {
						if s == "" {
							return fmt.Errorf("symbol cannot be empty")
						}
						return nil
					}),
				huh.NewInput().
					Title("Decimals").
					Description("e.g. 18 for WETH, 6 for USDC").
					Value(&decimalsStr).
					Validate(func(s string) error {
						d, err := strconv.Atoi(s)
						if err != nil {
							return fmt.Errorf("must be a valid number")
						}
						if d <= 0 || d > 36 {
							return fmt.Errorf("must be between 1 and 36")
						}
						return nil
					}),
				huh.NewConfirm().
					Title("Add another token?").
					Value(&addAnother),
			),
		).Run()
		if err != nil {
			return err
		}

		decimals, _ := strconv.Atoi(decimalsStr)
		tokens = append(tokens, config.TokenTmp{
			Address:  tokenAddr,
			Symbol:   tokenSymbol,
			Decimals: int32(decimals),
		})

		if !addAnother {
			break
		}
	}

	// monitoring
	fmt.Print("\033[H\033[2J")
	fmt.Println(headerStyle.Render("COLLAT CONFIG WIZARD"))
	fmt.Println(stepStyle.Render("STEP 4: MONITORING"))
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Risk Sweep Interval").
				Description("Duration string (e.g. 15s, 1m)").
				Value(&pollIntervalStr).
				Validate(func(s string) error {
					_, err := time.ParseDuration(s)
					return err
				}),
			huh.NewInput().
				Title("Watch Addresses").
				Description("Comma-separated borrower addresses to monitor (optional)").
				Value(&watchAddrsStr).
				Validate(func(s string) error {
					for _, a := range splitAddresses(s) {
						if !common.IsHexAddress(a) {
							return fmt.Errorf("invalid address: %s", a)
						}
					}
					return nil
				}),
			huh.NewInput().
				Title("Status Server Address").
				Description("e.g. :8080").
				Value(&webAddr),
		),
	).Run()
	if err != nil {
		return err
	}

	// confirmation
	fmt.Print("\033[H\033[2J")
	fmt.Println(headerStyle.Render("COLLAT CONFIG WIZARD"))
	fmt.Println(stepStyle.Render("FINAL CONFIRMATION"))

	summary := fmt.Sprintf(
		"RPC: %s\nChain: %s\nPool: %s\nOracle: %s\nTokens: %d\nSweep: %s\n",
		rpcURL, chainIDStr, poolAddr, oracleAddr, len(tokens), pollIntervalStr,
	)
	fmt.Println(lipgloss.NewStyle().Border(lipgloss.NormalBorder()).Padding(1).Render(summary))

	err = huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title("Save Configuration?").
				Affirmative("Yes, save and start").
				Negative("No, exit").
				Value(&confirm),
		),
	).Run()
	if err != nil {
		return err
	}

	if !confirm {
		return fmt.Errorf("setup cancelled by user")
	}

	// generate config
	chainID, _ := strconv.ParseInt(chainIDStr, 10, 64)
	pollInterval, _ := time.ParseDuration(pollIntervalStr)

	cfgTmp := config.ConfigTmp{
		RPCURL:         rpcURL,
		ChainID:        chainID,
		PoolAddress:    poolAddr,
		OracleAddress:  oracleAddr,
		Tokens:         tokens,
		PollInterval:   pollInterval,
		WatchAddresses: splitAddresses(watchAddrsStr),
		WebAddr:        webAddr,
	}

	data, err := yaml.Marshal(cfgTmp)
	if err != nil {
		return fmt.Errorf("failed to generate yaml: %w", err)
	}

	// write to config.gen.yaml
	filename := "config.gen.yaml"
	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to save config file: %w", err)
	}

	fmt.Println(lipgloss.NewStyle().Foreground(special).Render(fmt.Sprintf("\n✓ Configuration saved to %s\nStarting client...", filename)))
	time.Sleep(1500 * time.Millisecond) // small pause to read success message
	return nil
}

func validateAddress(s string) error {
	if !common.IsHexAddress(s) {
		return fmt.Errorf("must be a 0x-prefixed 20-byte hex address")
	}
	return nil
}

func splitAddresses(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
