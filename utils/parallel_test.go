package utils

import (
	"context"
	"sync"
	"testing"

	"go.viam.com/test"
)

func TestGroupWorkParallel(t *testing.T) {
	for _, numGroups := range []int{0, 1, 3, 8, 50} {
		const totalSize = 37
		visited := make([]int, totalSize)
		var mu sync.Mutex
		groupsDone := 0
		err := GroupWorkParallel(context.Background(), totalSize, numGroups,
			func(groupNum, groupSize, from, to int) (MemberWorkFunc, GroupWorkDoneFunc) {
				test.That(t, to-from, test.ShouldEqual, groupSize)
				return func(memberNum, workNum int) {
						visited[workNum]++
					}, func() {
						mu.Lock()
						groupsDone++
						mu.Unlock()
					}
			})
		test.That(t, err, test.ShouldBeNil)
		for _, count := range visited {
			test.That(t, count, test.ShouldEqual, 1)
		}
		test.That(t, groupsDone, test.ShouldBeGreaterThan, 0)
	}
}

func TestGroupWorkParallelCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	called := false
	err := GroupWorkParallel(ctx, 10, 2, func(groupNum, groupSize, from, to int) (MemberWorkFunc, GroupWorkDoneFunc) {
		called = true
		return nil, nil
	})
	test.That(t, err, test.ShouldBeError, context.Canceled)
	test.That(t, called, test.ShouldBeFalse)
}
