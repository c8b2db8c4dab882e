package venue

import (
	"strconv"
	"strings"

	"github.com/bytedance/sonic"
)

var wire = sonic.ConfigStd

func marshal(v any) ([]byte, error) {
	return wire.Marshal(v)
}

func unmarshal(data []byte, v any) error {
	return wire.Unmarshal(data, v)
}

// envelope carries the fields every inbound message shares
type envelope struct {
	MsgType string    `json:"msg_type"`
	ReqID   int64     `json:"req_id,omitempty"`
	Error   *apiError `json:"error,omitempty"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// contractID accepts ids sent either as JSON numbers or strings
type contractID string

func (id *contractID) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "null" {
		s = ""
	}
	*id = contractID(s)
	return nil
}

// wireID sends numeric ids back as numbers
func wireID(id string) any {
	if n, err := strconv.ParseInt(id, 10, 64); err == nil {
		return n
	}
	return id
}

type authorizeResponse struct {
	Authorize struct {
		Balance  float64 `json:"balance"`
		Currency string  `json:"currency"`
		LoginID  string  `json:"loginid"`
	} `json:"authorize"`
}

type balanceMessage struct {
	Balance struct {
		Balance  float64 `json:"balance"`
		Currency string  `json:"currency"`
	} `json:"balance"`
}

type buyResponse struct {
	Buy struct {
		ContractID   contractID `json:"contract_id"`
		StartSpot    float64    `json:"start_spot"`
		StartTime    int64      `json:"start_time"`
		Payout       float64    `json:"payout"`
		BuyPrice     float64    `json:"buy_price"`
		BalanceAfter *float64   `json:"balance_after,omitempty"`
	} `json:"buy"`
}

type openContract struct {
	ContractID  contractID `json:"contract_id"`
	IsSold      int        `json:"is_sold"`
	Status      string     `json:"status"`
	Profit      float64    `json:"profit"`
	Payout      float64    `json:"payout"`
	BuyPrice    float64    `json:"buy_price"`
	EntrySpot   float64    `json:"entry_spot"`
	CurrentSpot float64    `json:"current_spot"`
	DateExpiry  int64      `json:"date_expiry"`
}

type openContractMessage struct {
	OpenContract *openContract `json:"proposal_open_contract"`
}

type tickMessage struct {
	Tick *struct {
		Symbol string  `json:"symbol"`
		Quote  float64 `json:"quote"`
		Epoch  int64   `json:"epoch"`
	} `json:"tick"`
	Subscription *struct {
		ID string `json:"id"`
	} `json:"subscription,omitempty"`
}

type sellResponse struct {
	Sell struct {
		ContractID   contractID `json:"contract_id"`
		SoldFor      float64    `json:"sold_for"`
		BalanceAfter *float64   `json:"balance_after,omitempty"`
	} `json:"sell"`
}
