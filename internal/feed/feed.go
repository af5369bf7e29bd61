// Package feed renders running journeys as a GTFS-realtime VehiclePositions feed.
package feed

import (
	"time"

	"github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"google.golang.org/protobuf/proto"

	"notiapp/internal/sim"
)

const gtfsRealtimeVersion = "2.0"

// Build returns a full-dataset feed with one entity per running journey.
func Build(snaps []sim.Snapshot, now time.Time) *gtfs.FeedMessage {
	msg := &gtfs.FeedMessage{
		Header: &gtfs.FeedHeader{
			GtfsRealtimeVersion: proto.String(gtfsRealtimeVersion),
			Incrementality:      gtfs.FeedHeader_FULL_DATASET.Enum(),
			Timestamp:           proto.Uint64(uint64(now.Unix())),
		},
	}
	for _, s := range snaps {
		if s.Status != sim.Running {
			continue
		}
		msg.Entity = append(msg.Entity, &gtfs.FeedEntity{
			Id: proto.String(s.JourneyID),
			Vehicle: &gtfs.VehiclePosition{
				Trip: &gtfs.TripDescriptor{
					TripId:  proto.String(s.JourneyID),
					RouteId: proto.String(s.Destination),
				},
				Vehicle: &gtfs.VehicleDescriptor{
					Id:    proto.String(s.Session),
					Label: proto.String(s.DestinationName),
				},
				Position: &gtfs.Position{
					Latitude:  proto.Float32(float32(s.Position.Lat)),
					Longitude: proto.Float32(float32(s.Position.Lon)),
					Bearing:   proto.Float32(float32(s.Bearing)),
				},
				CurrentStopSequence: proto.Uint32(uint32(s.Cursor)),
				Timestamp:           proto.Uint64(uint64(now.Unix())),
			},
		})
	}
	return msg
}

// Marshal encodes the feed for the given snapshots.
func Marshal(snaps []sim.Snapshot, now time.Time) ([]byte, error) {
	return proto.Marshal(Build(snaps, now))
}
