package utils

import (
	"context"
	"runtime"
	"sync"

	"go.viam.com/utils"
)

// ParallelFactor controls the default level of parallelization when a caller asks for it without
// choosing a worker count.
var ParallelFactor = runtime.GOMAXPROCS(0)

func init() {
	if ParallelFactor <= 0 {
		ParallelFactor = 1
	}
}

type (
	// MemberWorkFunc runs for each work item (member) of a group.
	MemberWorkFunc func(memberNum, workNum int)
	// GroupWorkDoneFunc runs when a single group's work is done; helpful for merge stages.
	GroupWorkDoneFunc func()
	// GroupWorkFunc runs to determine what work members should do, if any.
	GroupWorkFunc func(groupNum, groupSize, from, to int) (MemberWorkFunc, GroupWorkDoneFunc)
)

// GroupWorkParallel splits totalSize work items into at most numGroups contiguous groups and runs
// each group on its own goroutine. With numGroups <= 1 the work runs on the calling goroutine.
// Members of different groups must not write to shared state.
func GroupWorkParallel(ctx context.Context, totalSize, numGroups int, groupWork GroupWorkFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if totalSize <= 0 {
		return nil
	}
	if numGroups > totalSize {
		numGroups = totalSize
	}
	if numGroups <= 1 {
		runGroup(0, totalSize, 0, totalSize, groupWork)
		return nil
	}

	groupSize := totalSize / numGroups
	extra := totalSize % numGroups

	var wait sync.WaitGroup
	wait.Add(numGroups)
	for groupNum := 0; groupNum < numGroups; groupNum++ {
		groupNum := groupNum
		from := groupSize * groupNum
		to := from + groupSize
		thisGroupSize := groupSize
		if groupNum == numGroups-1 {
			to += extra
			thisGroupSize += extra
		}
		utils.PanicCapturingGo(func() {
			defer wait.Done()
			runGroup(groupNum, thisGroupSize, from, to, groupWork)
		})
	}
	wait.Wait()
	return ctx.Err()
}

func runGroup(groupNum, groupSize, from, to int, groupWork GroupWorkFunc) {
	memberWork, groupWorkDone := groupWork(groupNum, groupSize, from, to)
	if memberWork != nil {
		memberNum := 0
		for workNum := from; workNum < to; workNum++ {
			memberWork(memberNum, workNum)
			memberNum++
		}
	}
	if groupWorkDone != nil {
		groupWorkDone()
	}
}
