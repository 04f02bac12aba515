package explorer

import (
	"reflect"
	"sort"
	"testing"
)

func TestGetBestPairs(t *testing.T) {
	type args struct {
		items  []uint64
		target uint64
	}
	tests := []struct {
		name string
		args args
		want []uint64
	}{
		{
			name: "1",
			args: args{
				items:  []uint64{61, 61, 61, 38, 61, 61, 61, 1, 1, 1, 3},
				target: 6,
			},
			want: []uint64{38},
		},
		{
			name: "2",
			args: args{
				items:  []uint64{61, 61, 61, 61, 61, 61, 1, 1, 1, 3},
				target: 6,
			},
			want: []uint64{3, 1, 1, 1},
		},
		{
			name: "3",
			args: args{
				items:  []uint64{61, 61},
				target: 6,
			},
			want: []uint64{61},
		},
		{
			name: "4",
			args: args{
				items:  []uint64{2, 2},
				target: 6,
			},
			want: []uint64{},
		},
		{
			name: "5",
			args: args{
				items:  []uint64{61, 1, 1, 1, 3, 56},
				target: 6,
			},
			want: []uint64{56},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sort.Slice(tt.args.items, func(i, j int) bool {
				return tt.args.items[i] > tt.args.items[j]
			})
			if got := getBestCombination(tt.args.items, tt.args.target); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("getBestPairs() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFindIndexes(t *testing.T) {
	type args struct {
		list                 []uint64
		values []uint64
	}
	tests := []struct {
		name string
		args args
		want []int
	}{
		{
			name: "1",
			args: args{
				list:                 []uint64{1000},
				values: []uint64{1000, 1000, 1000},
			},
			want: []int{0},
		},
		{
			name: "2",
			args: args{
				list:                 []uint64{1000, 1000},
				values: []uint64{1000, 2000, 1000},
			},
			want: []int{0, 2},
		},
		{
			name: "3",
			args: args{
				list: []uint64{2000, 2000},
				values: []uint64{1000, 2000, 1000, 2000, 2000,
					2000},
			},
			want: []int{1, 3},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := findIndexes(tt.args.list, tt.args.values); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("findIndexes() = %v, want %v", got, tt.want)
			}
		})
	}
}

type testUtxo struct {
	hash  string
	value uint64
}

func (u testUtxo) Hash() string      { return u.hash }
func (u testUtxo) Index() uint32     { return 0 }
func (u testUtxo) Value() uint64     { return u.value }
func (u testUtxo) IsConfirmed() bool { return true }

func TestSelectUnspents(t *testing.T) {
	utxos := []Utxo{
		testUtxo{"a", 5000},
		testUtxo{"b", 100000},
		testUtxo{"c", 20000},
	}

	coins, change, err := SelectUnspents(utxos, 5000)
	if err != nil {
		t.Fatal(err)
	}
	if len(coins) != 1 || coins[0].Hash() != "c" {
		t.Errorf("SelectUnspents() = %v, want [c]", coins)
	}
	if change != 15000 {
		t.Errorf("SelectUnspents() change = %d, want 15000", change)
	}
	if utxos[0].Hash() != "a" {
		t.Errorf("SelectUnspents() must not reorder the given utxos")
	}

	if _, _, err := SelectUnspents(utxos, 200000); err != ErrInsufficientFunds {
		t.Errorf("SelectUnspents() error = %v, want %v", err, ErrInsufficientFunds)
	}
}
