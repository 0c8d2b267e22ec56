package queue_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/okian/gather/internal/adapters/mq/queue"
	. "github.com/smartystreets/goconvey/convey"
)

func TestInMemoryQueue(t *testing.T) {
	Convey("Given an unbounded queue", t, func() {
		ctx := context.Background()
		q := queue.NewInMemoryQueue[string]()

		Convey("When it is empty", func() {
			_, ok := q.Dequeue(ctx)
			So(ok, ShouldBeFalse)
			So(q.Len(ctx), ShouldEqual, 0)
		})

		Convey("When items are enqueued", func() {
			for i := range 5 {
				So(q.Enqueue(ctx, fmt.Sprintf("task-%d", i)), ShouldBeNil)
			}

			Convey("Then they should come out in FIFO order", func() {
				So(q.Len(ctx), ShouldEqual, 5)
				for i := range 5 {
					item, ok := q.Dequeue(ctx)
					So(ok, ShouldBeTrue)
					So(item, ShouldEqual, fmt.Sprintf("task-%d", i))
				}
				So(q.Len(ctx), ShouldEqual, 0)
			})

			Convey("Then interleaved enqueues should keep the order", func() {
				first, _ := q.Dequeue(ctx)
				second, _ := q.Dequeue(ctx)
				So(q.Enqueue(ctx, "task-5"), ShouldBeNil)
				So([]string{first, second}, ShouldResemble, []string{"task-0", "task-1"})
				So(q.Drain(ctx), ShouldResemble, []string{"task-2", "task-3", "task-4", "task-5"})
			})

			Convey("Then Drain should empty the queue", func() {
				So(q.Drain(ctx), ShouldHaveLength, 5)
				So(q.Len(ctx), ShouldEqual, 0)
			})
		})

		Convey("When the queue is closed", func() {
			So(q.Enqueue(ctx, "kept"), ShouldBeNil)
			So(q.Close(), ShouldBeNil)

			Convey("Then enqueue should fail and queued items should remain", func() {
				So(q.IsClosed(), ShouldBeTrue)
				So(errors.Is(q.Enqueue(ctx, "late"), queue.ErrClosed), ShouldBeTrue)
				item, ok := q.Dequeue(ctx)
				So(ok, ShouldBeTrue)
				So(item, ShouldEqual, "kept")
			})
		})
	})

	Convey("Given a bounded queue", t, func() {
		ctx := context.Background()
		q := queue.NewInMemoryQueue[int](queue.WithCapacity(2), queue.WithName("test_queue"))

		So(q.Enqueue(ctx, 1), ShouldBeNil)
		So(q.Enqueue(ctx, 2), ShouldBeNil)

		Convey("Then enqueue at capacity should fail with ErrFull", func() {
			So(errors.Is(q.Enqueue(ctx, 3), queue.ErrFull), ShouldBeTrue)
			So(q.Len(ctx), ShouldEqual, 2)
		})

		Convey("Then a dequeue should free a slot", func() {
			_, _ = q.Dequeue(ctx)
			So(q.Enqueue(ctx, 3), ShouldBeNil)
		})
	})

	Convey("Given concurrent producers", t, func() {
		ctx := context.Background()
		q := queue.NewInMemoryQueue[int]()
		var wg sync.WaitGroup
		for p := range 10 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := range 100 {
					_ = q.Enqueue(ctx, p*100+i)
				}
			}()
		}
		wg.Wait()

		Convey("Then every item should be queued once", func() {
			seen := make(map[int]bool)
			for {
				item, ok := q.Dequeue(ctx)
				if !ok {
					break
				}
				So(seen[item], ShouldBeFalse)
				seen[item] = true
			}
			So(seen, ShouldHaveLength, 1000)
		})
	})
}
