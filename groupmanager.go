package signalr

import (
	"fmt"
	"strings"
	"sync"
)

// GroupManager maintains group memberships and resolves a group name to the
// live connection set for broadcast.
//
// The in-memory membership map is only a routing cache. The durable record
// of membership is the groups token the client carries: with several server
// instances behind a load balancer, a later request may land on an instance
// that never saw the group join, so membership is re-validated against the
// token on every request via VerifyGroups.
type GroupManager struct {
	mx         sync.RWMutex
	groups     map[string]map[string]struct{}
	heartbeat  *TransportHeartbeat
	protector  DataProtector
	serializer Serializer
	info       StructuredLogger
}

func newGroupManager(heartbeat *TransportHeartbeat, protector DataProtector, serializer Serializer, info StructuredLogger) *GroupManager {
	return &GroupManager{
		groups:     make(map[string]map[string]struct{}),
		heartbeat:  heartbeat,
		protector:  protector,
		serializer: serializer,
		info:       info,
	}
}

// Add puts connectionID into groupName.
func (g *GroupManager) Add(connectionID, groupName string) {
	g.mx.Lock()
	members, ok := g.groups[groupName]
	if !ok {
		members = make(map[string]struct{})
		g.groups[groupName] = members
	}
	members[connectionID] = struct{}{}
	g.mx.Unlock()
	if c, ok := g.heartbeat.Connection(connectionID); ok {
		c.addGroup(groupName)
	}
}

// Remove takes connectionID out of groupName.
func (g *GroupManager) Remove(connectionID, groupName string) {
	g.mx.Lock()
	if members, ok := g.groups[groupName]; ok {
		delete(members, connectionID)
		if len(members) == 0 {
			delete(g.groups, groupName)
		}
	}
	g.mx.Unlock()
	if c, ok := g.heartbeat.Connection(connectionID); ok {
		c.removeGroup(groupName)
	}
}

// Send fans payload out to all live members of groupName. Membership is
// snapshotted at call time; a connection that disconnects mid fan out is
// skipped.
func (g *GroupManager) Send(groupName string, payload interface{}) {
	g.mx.RLock()
	members := make([]string, 0, len(g.groups[groupName]))
	for id := range g.groups[groupName] {
		members = append(members, id)
	}
	g.mx.RUnlock()
	for _, id := range members {
		if c, ok := g.heartbeat.Connection(id); ok {
			c.Send(payload)
		}
	}
}

// VerifyGroups decodes groupsToken and returns the embedded membership list
// if the token is intact and belongs to connectionID. Any failure yields an
// empty list: a corrupted or foreign token must never be read as broader
// membership than intended.
func (g *GroupManager) VerifyGroups(connectionID, groupsToken string) []string {
	if groupsToken == "" {
		return nil
	}
	unprotected, err := g.protector.Unprotect(groupsToken, PurposeGroups)
	if err != nil {
		_ = g.info.Log(evt, "unprotect groups token", "error", err, react, "no groups")
		return nil
	}
	parts := strings.SplitN(unprotected, ":", 2)
	if len(parts) != 2 || parts[0] != connectionID {
		return nil
	}
	var groups []string
	if err := g.serializer.Unmarshal([]byte(parts[1]), &groups); err != nil {
		_ = g.info.Log(evt, "parse groups token", "error", err, react, "no groups")
		return nil
	}
	return groups
}

// GroupsToken protects the current membership of c into a token the client
// carries to later requests.
func (g *GroupManager) GroupsToken(c *Connection) (string, error) {
	groups, err := g.serializer.Marshal(c.Groups())
	if err != nil {
		return "", fmt.Errorf("marshal groups: %w", err)
	}
	return g.protector.Protect(c.ConnectionID()+":"+string(groups), PurposeGroups)
}

// restore rebuilds the routing entries for connectionID from a verified
// token, without marking the membership as changed. A request landing on an
// instance that never saw the group join repopulates the local cache here.
func (g *GroupManager) restore(connectionID string, groups []string) {
	g.mx.Lock()
	defer g.mx.Unlock()
	for _, name := range groups {
		members, ok := g.groups[name]
		if !ok {
			members = make(map[string]struct{})
			g.groups[name] = members
		}
		members[connectionID] = struct{}{}
	}
}

// removeConnection drops connectionID from every group. Called from the
// disconnect path only.
func (g *GroupManager) removeConnection(connectionID string) {
	g.mx.Lock()
	defer g.mx.Unlock()
	for name, members := range g.groups {
		delete(members, connectionID)
		if len(members) == 0 {
			delete(g.groups, name)
		}
	}
}
