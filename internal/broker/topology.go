package broker

import "fmt"

// DeclareTopology declares every queue the streaming protocol uses. Safe to
// run on every startup and reconnection; declaration order does not matter.
func DeclareTopology(conn *Connection, queues ...string) error {
	for _, queue := range queues {
		if err := conn.DeclareQueue(queue); err != nil {
			return fmt.Errorf("broker: declaring queue %s: %w", queue, err)
		}
	}
	return nil
}
