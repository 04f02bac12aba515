package esplora

/**** TRANSACTION STATUS ****/

// txStatus implements explorer.TransactionStatus interface
type txStatus map[string]interface{}

func (s txStatus) Confirmed() bool {
	confirmed, ok := s["confirmed"].(bool)
	if !ok {
		return false
	}
	return confirmed
}

func (s txStatus) BlockHash() string {
	blockHash, ok := s["block_hash"].(string)
	if !ok {
		return ""
	}
	return blockHash
}

func (s txStatus) BlockHeight() int {
	blockHeight, ok := s["block_height"].(float64)
	if !ok {
		return -1
	}
	return int(blockHeight)
}

func (s txStatus) BlockTime() int {
	blockTime, ok := s["block_time"].(float64)
	if !ok {
		return -1
	}
	return int(blockTime)
}

/**** UTXO *****/

type witnessUtxo struct {
	UHash   string `json:"txid"`
	UIndex  uint32 `json:"vout"`
	UValue  uint64 `json:"value"`
	UStatus status `json:"status"`
}

type status struct {
	Confirmed bool `json:"confirmed"`
}

func (wu witnessUtxo) Hash() string {
	return wu.UHash
}

func (wu witnessUtxo) Index() uint32 {
	return wu.UIndex
}

func (wu witnessUtxo) Value() uint64 {
	return wu.UValue
}

func (wu witnessUtxo) IsConfirmed() bool {
	return wu.UStatus.Confirmed
}
