package pipeline

import (
	"embed"
	"strings"
)

//go:embed templates/*.yaml
var templates embed.FS

// Input is what a deploy or teardown request supplies: where to run and the
// base name every stack name derives from.
type Input struct {
	Profile  string
	Region   string
	BaseName string
	Options  map[string]string
}

// Well-known output keys propagated between stages.
const (
	OutVpcId           = "VpcId"
	OutPublicSubnetIds = "PublicSubnetIds"
	OutSecurityGroupId = "ClusterSecurityGroupId"
	OutClusterArn      = "ClusterArn"
	OutInstanceId      = "InstanceId"
)

// Stage is one reconciliation step of the deployment pipeline.
type Stage struct {
	Suffix            string
	Milestone         int // progress after the stage succeeds on deploy
	TeardownMilestone int // progress after the stage is destroyed
	template          string
	params            func(in Input, prior map[string]map[string]string) map[string]string
}

// Stages is the fixed deployment order. Teardown walks it in reverse.
var Stages = []Stage{
	{
		Suffix:            "network",
		Milestone:         25,
		TeardownMilestone: 95,
		template:          mustTemplate("network.yaml"),
		params: func(in Input, _ map[string]map[string]string) map[string]string {
			p := map[string]string{}
			setOption(p, in, "VpcCidr")
			return p
		},
	},
	{
		Suffix:            "cluster",
		Milestone:         60,
		TeardownMilestone: 80,
		template:          mustTemplate("cluster.yaml"),
		params: func(in Input, prior map[string]map[string]string) map[string]string {
			p := map[string]string{
				"ClusterName":     in.BaseName,
				"SubnetIds":       prior["network"][OutPublicSubnetIds],
				"SecurityGroupId": prior["network"][OutSecurityGroupId],
			}
			setOption(p, in, "KafkaVersion")
			setOption(p, in, "BrokerInstanceType")
			return p
		},
	},
	{
		Suffix:            "compute",
		Milestone:         80,
		TeardownMilestone: 50,
		template:          mustTemplate("compute.yaml"),
		params: func(in Input, prior map[string]map[string]string) map[string]string {
			subnets := strings.Split(prior["network"][OutPublicSubnetIds], ",")
			p := map[string]string{
				"VpcId":           prior["network"][OutVpcId],
				"SubnetId":        subnets[0],
				"SecurityGroupId": prior["network"][OutSecurityGroupId],
				"ClusterArn":      prior["cluster"][OutClusterArn],
			}
			setOption(p, in, "InstanceType")
			return p
		},
	},
	{
		Suffix:            "automation",
		Milestone:         95,
		TeardownMilestone: 20,
		template:          mustTemplate("automation.yaml"),
		params: func(in Input, prior map[string]map[string]string) map[string]string {
			return map[string]string{
				"InstanceId": prior["compute"][OutInstanceId],
				"ClusterArn": prior["cluster"][OutClusterArn],
			}
		},
	},
}

// StackName derives the deterministic stack name of a stage.
func StackName(base, suffix string) string {
	return base + "-" + suffix
}

func setOption(params map[string]string, in Input, key string) {
	if v, ok := in.Options[key]; ok && v != "" {
		params[key] = v
	}
}

func mustTemplate(name string) string {
	b, err := templates.ReadFile("templates/" + name)
	if err != nil {
		panic(err)
	}
	return string(b)
}
