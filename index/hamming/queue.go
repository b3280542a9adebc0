package hamming

import "container/heap"

// Compile time check to ensure priorityQueue satisfies the heap interface.
var _ heap.Interface = (*priorityQueue)(nil)

// priorityQueueItem represents an item in the priority queue.
type priorityQueueItem struct {
	Node     uint32 // Node is the graph position of the item.
	Distance int    // Distance is the priority of the item in the queue.
}

// priorityQueue implements heap.Interface over Hamming distances.
type priorityQueue struct {
	Order bool                 // Order false: min-heap, true: max-heap.
	Items []*priorityQueueItem // Items contains the elements of the priority queue.
}

// Len returns the number of elements in the priority queue.
func (pq *priorityQueue) Len() int { return len(pq.Items) }

// Less reports whether the element with index i should sort before the element with index j.
func (pq *priorityQueue) Less(i, j int) bool {
	if !pq.Order {
		return pq.Items[i].Distance < pq.Items[j].Distance
	}

	return pq.Items[i].Distance > pq.Items[j].Distance
}

// Swap swaps the elements with indexes i and j.
func (pq *priorityQueue) Swap(i, j int) {
	pq.Items[i], pq.Items[j] = pq.Items[j], pq.Items[i]
}

// Push adds x to the priority queue.
func (pq *priorityQueue) Push(x any) {
	item, _ := x.(*priorityQueueItem)
	pq.Items = append(pq.Items, item)
}

// Pop removes and returns the top element from the priority queue.
func (pq *priorityQueue) Pop() any {
	old := pq.Items
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	pq.Items = old[:n-1]

	return item
}

// Top returns the top element of the priority queue.
func (pq *priorityQueue) Top() *priorityQueueItem {
	return pq.Items[0]
}
