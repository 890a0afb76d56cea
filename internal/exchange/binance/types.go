package binance

import "encoding/json"

// apiError is the JSON error envelope returned on non-2xx responses.
type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"msg"`
}

// exchangeInfoResponse is the subset of /api/v3/exchangeInfo the client reads.
type exchangeInfoResponse struct {
	Symbols []struct {
		Symbol  string `json:"symbol"`
		Filters []struct {
			FilterType string `json:"filterType"`
			StepSize   string `json:"stepSize"`
			MinQty     string `json:"minQty"`
			TickSize   string `json:"tickSize"`
		} `json:"filters"`
	} `json:"symbols"`
}

// depthResponse is the /api/v3/depth payload. Levels arrive as
// ["price","quantity"] string pairs.
type depthResponse struct {
	Bids [][2]json.Number `json:"bids"`
	Asks [][2]json.Number `json:"asks"`
}

// orderResponse is the shared shape of order placement and query responses.
type orderResponse struct {
	Symbol      string      `json:"symbol"`
	OrderID     int64       `json:"orderId"`
	Status      string      `json:"status"`
	Side        string      `json:"side"`
	Price       json.Number `json:"price"`
	OrigQty     json.Number `json:"origQty"`
	ExecutedQty json.Number `json:"executedQty"`
}

// accountResponse is the subset of /api/v3/account the client reads.
type accountResponse struct {
	Balances []struct {
		Asset  string      `json:"asset"`
		Free   json.Number `json:"free"`
		Locked json.Number `json:"locked"`
	} `json:"balances"`
}

// tradeFeeResponse is the /sapi/v1/asset/tradeFee payload.
type tradeFeeResponse []struct {
	Symbol          string      `json:"symbol"`
	MakerCommission json.Number `json:"makerCommission"`
	TakerCommission json.Number `json:"takerCommission"`
}
