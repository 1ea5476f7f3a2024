package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"github.com/echoed/server/internal/repository/room"
	"github.com/redis/go-redis/v9"
)

type roomHash struct {
	Code              string `redis:"code"`
	CurrentTrack      string `redis:"current_track"`
	PositionMs        int64  `redis:"position_ms"`
	IsPlaying         bool   `redis:"is_playing"`
	LastSyncTimestamp int64  `redis:"last_sync_timestamp"`
	Queue             string `redis:"queue"`
	CreatedAt         int64  `redis:"created_at"`
}

type memberHash struct {
	UserId      string `redis:"user_id"`
	DisplayName string `redis:"display_name"`
	IsHost      bool   `redis:"is_host"`
}

func toRoomHash(rm room.Room) (roomHash, error) {
	h := roomHash{
		Code:              rm.Code,
		PositionMs:        rm.PositionMs,
		IsPlaying:         rm.IsPlaying,
		LastSyncTimestamp: rm.LastSyncTimestamp,
		CreatedAt:         rm.CreatedAt,
	}

	if rm.CurrentTrack != nil {
		track, err := json.Marshal(rm.CurrentTrack)
		if err != nil {
			return roomHash{}, fmt.Errorf("failed to marshal current track: %w", err)
		}
		h.CurrentTrack = string(track)
	}

	if len(rm.Queue) > 0 {
		queue, err := json.Marshal(rm.Queue)
		if err != nil {
			return roomHash{}, fmt.Errorf("failed to marshal queue: %w", err)
		}
		h.Queue = string(queue)
	}

	return h, nil
}

func (h roomHash) toRoom() (room.Room, error) {
	rm := room.Room{
		Code:              h.Code,
		PositionMs:        h.PositionMs,
		IsPlaying:         h.IsPlaying,
		LastSyncTimestamp: h.LastSyncTimestamp,
		CreatedAt:         h.CreatedAt,
	}

	if h.CurrentTrack != "" {
		var track room.Track
		if err := json.Unmarshal([]byte(h.CurrentTrack), &track); err != nil {
			return room.Room{}, fmt.Errorf("failed to unmarshal current track: %w", err)
		}
		rm.CurrentTrack = &track
	}

	if h.Queue != "" {
		if err := json.Unmarshal([]byte(h.Queue), &rm.Queue); err != nil {
			return room.Room{}, fmt.Errorf("failed to unmarshal queue: %w", err)
		}
	}

	return rm, nil
}

func (r repo) CreateRoom(ctx context.Context, params room.Room) error {
	added, err := r.rc.SAdd(ctx, roomsKey, params.Code).Result()
	if err != nil {
		return fmt.Errorf("failed to add room code: %w", err)
	}

	if added == 0 {
		// the code may be a leftover of a room whose keys expired
		exists, err := r.rc.Exists(ctx, r.getRoomKey(params.Code)).Result()
		if err != nil {
			return fmt.Errorf("failed to check if room exists: %w", err)
		}
		if exists > 0 {
			return room.ErrRoomAlreadyExists
		}
	}

	if err := r.writeRoom(ctx, params, nil); err != nil {
		return fmt.Errorf("failed to create room: %w", err)
	}

	return nil
}

func (r repo) UpdateRoom(ctx context.Context, params room.Room) error {
	exists, err := r.rc.Exists(ctx, r.getRoomKey(params.Code)).Result()
	if err != nil {
		return fmt.Errorf("failed to check if room exists: %w", err)
	}
	if exists == 0 {
		return room.ErrRoomNotFound
	}

	prevIds, err := r.rc.LRange(ctx, r.getMembersKey(params.Code), 0, -1).Result()
	if err != nil {
		return fmt.Errorf("failed to get member ids: %w", err)
	}

	if err := r.writeRoom(ctx, params, prevIds); err != nil {
		return fmt.Errorf("failed to update room: %w", err)
	}

	return nil
}

// writeRoom replaces every key of the room in one transaction. Members of
// prevIds that are no longer in the room lose their keys.
func (r repo) writeRoom(ctx context.Context, rm room.Room, prevIds []string) error {
	h, err := toRoomHash(rm)
	if err != nil {
		return err
	}

	currentIds := rm.ConnectionIds()
	roomKey := r.getRoomKey(rm.Code)
	membersKey := r.getMembersKey(rm.Code)

	pipe := r.rc.TxPipeline()
	pipe.Del(ctx, roomKey)
	pipe.HSet(ctx, roomKey, h)
	pipe.Expire(ctx, roomKey, r.expireDuration)

	for _, id := range prevIds {
		if !slices.Contains(currentIds, id) {
			pipe.Del(ctx, r.getMemberKey(rm.Code, id), r.getConnectionKey(id))
		}
	}

	pipe.Del(ctx, membersKey)
	if len(currentIds) > 0 {
		pipe.RPush(ctx, membersKey, toAny(currentIds)...)
		pipe.Expire(ctx, membersKey, r.expireDuration)
	}

	for _, m := range rm.Members {
		memberKey := r.getMemberKey(rm.Code, m.ConnectionId)
		pipe.HSet(ctx, memberKey, memberHash{
			UserId:      m.UserId,
			DisplayName: m.DisplayName,
			IsHost:      m.IsHost,
		})
		pipe.Expire(ctx, memberKey, r.expireDuration)
		pipe.Set(ctx, r.getConnectionKey(m.ConnectionId), rm.Code, r.expireDuration)
	}

	pipe.SAdd(ctx, roomsKey, rm.Code)

	return r.executePipe(ctx, pipe)
}

func (r repo) GetRoom(ctx context.Context, code string) (room.Room, error) {
	var h roomHash
	cmd := r.rc.HGetAll(ctx, r.getRoomKey(code))
	if err := cmd.Err(); err != nil {
		return room.Room{}, fmt.Errorf("failed to get room: %w", err)
	}
	if len(cmd.Val()) == 0 {
		return room.Room{}, room.ErrRoomNotFound
	}
	if err := cmd.Scan(&h); err != nil {
		return room.Room{}, fmt.Errorf("failed to scan room: %w", err)
	}

	rm, err := h.toRoom()
	if err != nil {
		return room.Room{}, err
	}

	ids, err := r.rc.LRange(ctx, r.getMembersKey(code), 0, -1).Result()
	if err != nil {
		return room.Room{}, fmt.Errorf("failed to get member ids: %w", err)
	}

	pipe := r.rc.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, 0, len(ids))
	for _, id := range ids {
		cmds = append(cmds, pipe.HGetAll(ctx, r.getMemberKey(code, id)))
	}
	if len(ids) > 0 {
		if err := r.executePipe(ctx, pipe); err != nil {
			return room.Room{}, fmt.Errorf("failed to get members: %w", err)
		}
	}

	rm.Members = make([]room.Member, 0, len(ids))
	for i, cmd := range cmds {
		if len(cmd.Val()) == 0 {
			r.logger.WarnContext(ctx, "member hash missing", "code", code, "connection_id", ids[i])
			continue
		}

		var mh memberHash
		if err := cmd.Scan(&mh); err != nil {
			return room.Room{}, fmt.Errorf("failed to scan member: %w", err)
		}

		rm.Members = append(rm.Members, room.Member{
			ConnectionId: ids[i],
			UserId:       mh.UserId,
			DisplayName:  mh.DisplayName,
			IsHost:       mh.IsHost,
		})
	}

	return rm, nil
}

func (r repo) GetRoomByConnection(ctx context.Context, connectionId string) (room.Room, error) {
	code, err := r.rc.Get(ctx, r.getConnectionKey(connectionId)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return room.Room{}, room.ErrRoomNotFound
		}
		return room.Room{}, fmt.Errorf("failed to get connection room: %w", err)
	}

	rm, err := r.GetRoom(ctx, code)
	if err != nil {
		return room.Room{}, err
	}

	if !rm.HasMember(connectionId) {
		return room.Room{}, room.ErrRoomNotFound
	}

	return rm, nil
}

func (r repo) DeleteRoom(ctx context.Context, code string) error {
	ids, err := r.rc.LRange(ctx, r.getMembersKey(code), 0, -1).Result()
	if err != nil {
		return fmt.Errorf("failed to get member ids: %w", err)
	}

	pipe := r.rc.TxPipeline()
	pipe.Del(ctx, r.getRoomKey(code), r.getMembersKey(code))
	for _, id := range ids {
		pipe.Del(ctx, r.getMemberKey(code, id), r.getConnectionKey(id))
	}
	pipe.SRem(ctx, roomsKey, code)

	if err := r.executePipe(ctx, pipe); err != nil {
		return fmt.Errorf("failed to delete room: %w", err)
	}

	return nil
}

func (r repo) ListRooms(ctx context.Context) ([]room.Room, error) {
	codes, err := r.rc.SMembers(ctx, roomsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get room codes: %w", err)
	}
	slices.Sort(codes)

	rooms := make([]room.Room, 0, len(codes))
	for _, code := range codes {
		rm, err := r.GetRoom(ctx, code)
		if err != nil {
			if errors.Is(err, room.ErrRoomNotFound) {
				r.rc.SRem(ctx, roomsKey, code)
				continue
			}
			return nil, err
		}

		rooms = append(rooms, rm)
	}

	return rooms, nil
}

func toAny(ids []string) []any {
	values := make([]any, len(ids))
	for i, id := range ids {
		values[i] = id
	}

	return values
}
