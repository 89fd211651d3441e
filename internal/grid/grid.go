// Package grid produces the shared 1..100 board layout for a round.
package grid

// Size is the number of cells on the board.
const Size = 100

// Shuffle returns the integers 1..Size permuted by a Fisher-Yates walk whose
// swap indices come from an explicit linear-congruential generator seeded
// with seed. Two clients given the same seed produce identical layouts, so
// the round seed from the authority is the only entropy allowed here. The
// constants are Knuth's MMIX multiplier and increment.
func Shuffle(seed int64) []int {
	nums := make([]int, Size)
	for i := range nums {
		nums[i] = i + 1
	}

	x := uint64(seed)
	for i := len(nums) - 1; i > 0; i-- {
		x = x*6364136223846793005 + 1442695040888963407
		// Top bits of an LCG are the well-distributed ones.
		j := int((x >> 33) % uint64(i+1))
		nums[i], nums[j] = nums[j], nums[i]
	}
	return nums
}
