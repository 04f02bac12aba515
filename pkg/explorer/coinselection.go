package explorer

import (
	"errors"
	"sort"
)

// ErrInsufficientFunds ...
var ErrInsufficientFunds = errors.New(
	"error on target amount: total utxo amount does not cover target amount",
)

// SelectUnspents performs a coin selection over the given list of Utxos and
// returns a subset of them to cover the targetAmount.
func SelectUnspents(
	utxos []Utxo, targetAmount uint64,
) (coins []Utxo, change uint64, err error) {
	candidates := make([]Utxo, len(utxos))
	copy(candidates, utxos)

	indexes := getCoinsIndexes(targetAmount, candidates)
	if len(indexes) <= 0 {
		return nil, 0, ErrInsufficientFunds
	}

	totalAmount := uint64(0)
	coins = make([]Utxo, 0, len(indexes))
	for _, v := range indexes {
		totalAmount += candidates[v].Value()
		coins = append(coins, candidates[v])
	}
	return coins, totalAmount - targetAmount, nil
}

//getCoinsIndexes method returns utxo indexes that are going to be selected
//the goal of the selection strategy is to select as less as possible utxo's
//until a 10x ratio
func getCoinsIndexes(targetAmount uint64, utxos []Utxo) []int {
	sort.Slice(utxos, func(i, j int) bool {
		return utxos[i].Value() > utxos[j].Value()
	})

	values := make([]uint64, 0, len(utxos))
	for _, v := range utxos {
		values = append(values, v.Value())
	}

	list := getBestCombination(values, targetAmount)
	return findIndexes(list, values)
}

func findIndexes(list []uint64, values []uint64) []int {
	var indexes []int
loop:
	for _, v := range list {
		for i, v1 := range values {
			if v == v1 && !isIndexOccupied(i, indexes) {
				indexes = append(indexes, i)
				continue loop
			}
		}
	}
	return indexes
}

func isIndexOccupied(i int, list []int) bool {
	for _, v := range list {
		if v == i {
			return true
		}
	}
	return false
}

//getCombinations is calculating all combinations for 'size' the elements of src array
// number of combination formula -> len(src)! / size! * (len(src) - size)!
func getCombinations(src []uint64, size int) [][]uint64 {
	result := [][]uint64{}
	combination := make([]uint64, 0, size)

	var walk func(size, offset int)
	walk = func(size, offset int) {
		if size == 0 {
			temp := make([]uint64, len(combination))
			copy(temp, combination)
			result = append(result, temp)
			return
		}
		for i := offset; i <= len(src)-size; i++ {
			combination = append(combination, src[i])
			walk(size-1, i+1)
			combination = combination[:len(combination)-1]
		}
	}
	walk(size, 0)
	return result
}

func sum(items []uint64) uint64 {
	var total uint64
	for _, v := range items {
		total += v
	}
	return total
}

//getBestCombination method implement strategy of selecting as less as possible
//elements from items slice so that sum of elements is equal or greater than
//target, with 10x ratio
//It uses bellow logic:
//1. set size = 1
//2. get all combinations for size elements in the input Array.
//3. check each combination if meet the requirements from 0 -> i, if yes, return it (finish)
//4. if none of combination matches, then size++ and go to Step 2.
func getBestCombination(items []uint64, target uint64) []uint64 {
	result := [][]uint64{}
	for i := 1; i < len(items)+1; i++ {
		result = append(result, getCombinations(items, i)...)
		for j := 0; j < len(result); j++ {
			total := sum(result[j])
			if total < target {
				continue
			}
			if total <= target*10 {
				return result[j]
			}
		}
	}

	//if there is no good combination just return first which is greater
	for _, v := range items {
		if v >= target {
			return []uint64{v}
		}
	}
	return []uint64{}
}
