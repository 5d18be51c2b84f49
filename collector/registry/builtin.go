// SPDX-FileCopyrightText: 2022 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

package registry

import (
	"github.com/netsampler/goflow2/v2/decoders/netflow"
)

// ie builds an IANA element (enterprise 0).
func ie(id uint16, name string, t Type, s Semantics) Element {
	return Element{ID: id, Name: name, Type: t, Semantics: s}
}

// builtinElements is the subset of the IANA IPFIX information elements
// registry known without configuration. Identifiers 1 to 127 are
// shared with NetFlow v9 field types.
var builtinElements = []Element{
	ie(netflow.IPFIX_FIELD_octetDeltaCount, "octetDeltaCount", Unsigned64, DeltaCounter),
	ie(netflow.IPFIX_FIELD_packetDeltaCount, "packetDeltaCount", Unsigned64, DeltaCounter),
	ie(3, "deltaFlowCount", Unsigned64, DeltaCounter),
	ie(netflow.IPFIX_FIELD_protocolIdentifier, "protocolIdentifier", Unsigned8, Identifier),
	ie(netflow.IPFIX_FIELD_ipClassOfService, "ipClassOfService", Unsigned8, Identifier),
	ie(netflow.IPFIX_FIELD_tcpControlBits, "tcpControlBits", Unsigned16, Flags),
	ie(netflow.IPFIX_FIELD_sourceTransportPort, "sourceTransportPort", Unsigned16, Identifier),
	ie(netflow.IPFIX_FIELD_sourceIPv4Address, "sourceIPv4Address", IPv4Address, DefaultSemantics),
	ie(netflow.IPFIX_FIELD_sourceIPv4PrefixLength, "sourceIPv4PrefixLength", Unsigned8, DefaultSemantics),
	ie(netflow.IPFIX_FIELD_ingressInterface, "ingressInterface", Unsigned32, Identifier),
	ie(netflow.IPFIX_FIELD_destinationTransportPort, "destinationTransportPort", Unsigned16, Identifier),
	ie(netflow.IPFIX_FIELD_destinationIPv4Address, "destinationIPv4Address", IPv4Address, DefaultSemantics),
	ie(netflow.IPFIX_FIELD_destinationIPv4PrefixLength, "destinationIPv4PrefixLength", Unsigned8, DefaultSemantics),
	ie(netflow.IPFIX_FIELD_egressInterface, "egressInterface", Unsigned32, Identifier),
	ie(netflow.IPFIX_FIELD_ipNextHopIPv4Address, "ipNextHopIPv4Address", IPv4Address, DefaultSemantics),
	ie(netflow.IPFIX_FIELD_bgpSourceAsNumber, "bgpSourceAsNumber", Unsigned32, Identifier),
	ie(netflow.IPFIX_FIELD_bgpDestinationAsNumber, "bgpDestinationAsNumber", Unsigned32, Identifier),
	ie(netflow.IPFIX_FIELD_bgpNextHopIPv4Address, "bgpNextHopIPv4Address", IPv4Address, DefaultSemantics),
	ie(19, "postMCastPacketDeltaCount", Unsigned64, DeltaCounter),
	ie(20, "postMCastOctetDeltaCount", Unsigned64, DeltaCounter),
	ie(21, "flowEndSysUpTime", Unsigned32, DefaultSemantics),
	ie(22, "flowStartSysUpTime", Unsigned32, DefaultSemantics),
	ie(netflow.IPFIX_FIELD_postOctetDeltaCount, "postOctetDeltaCount", Unsigned64, DeltaCounter),
	ie(netflow.IPFIX_FIELD_postPacketDeltaCount, "postPacketDeltaCount", Unsigned64, DeltaCounter),
	ie(25, "minimumIpTotalLength", Unsigned64, DefaultSemantics),
	ie(26, "maximumIpTotalLength", Unsigned64, DefaultSemantics),
	ie(netflow.IPFIX_FIELD_sourceIPv6Address, "sourceIPv6Address", IPv6Address, DefaultSemantics),
	ie(netflow.IPFIX_FIELD_destinationIPv6Address, "destinationIPv6Address", IPv6Address, DefaultSemantics),
	ie(netflow.IPFIX_FIELD_sourceIPv6PrefixLength, "sourceIPv6PrefixLength", Unsigned8, DefaultSemantics),
	ie(netflow.IPFIX_FIELD_destinationIPv6PrefixLength, "destinationIPv6PrefixLength", Unsigned8, DefaultSemantics),
	ie(netflow.IPFIX_FIELD_flowLabelIPv6, "flowLabelIPv6", Unsigned32, Identifier),
	ie(netflow.IPFIX_FIELD_icmpTypeCodeIPv4, "icmpTypeCodeIPv4", Unsigned16, Identifier),
	ie(33, "igmpType", Unsigned8, Identifier),
	ie(netflow.IPFIX_FIELD_samplingInterval, "samplingInterval", Unsigned32, Quantity),
	ie(35, "samplingAlgorithm", Unsigned8, Identifier),
	ie(36, "flowActiveTimeout", Unsigned16, DefaultSemantics),
	ie(37, "flowIdleTimeout", Unsigned16, DefaultSemantics),
	ie(40, "exportedOctetTotalCount", Unsigned64, TotalCounter),
	ie(41, "exportedMessageTotalCount", Unsigned64, TotalCounter),
	ie(42, "exportedFlowRecordTotalCount", Unsigned64, TotalCounter),
	ie(44, "sourceIPv4Prefix", IPv4Address, DefaultSemantics),
	ie(45, "destinationIPv4Prefix", IPv4Address, DefaultSemantics),
	ie(46, "mplsTopLabelType", Unsigned8, Identifier),
	ie(47, "mplsTopLabelIPv4Address", IPv4Address, DefaultSemantics),
	ie(netflow.IPFIX_FIELD_samplerId, "samplerId", Unsigned8, Identifier),
	ie(netflow.IPFIX_FIELD_samplerMode, "samplerMode", Unsigned8, Identifier),
	ie(netflow.IPFIX_FIELD_samplerRandomInterval, "samplerRandomInterval", Unsigned32, Quantity),
	ie(52, "minimumTTL", Unsigned8, DefaultSemantics),
	ie(53, "maximumTTL", Unsigned8, DefaultSemantics),
	ie(netflow.IPFIX_FIELD_fragmentIdentification, "fragmentIdentification", Unsigned32, Identifier),
	ie(55, "postIpClassOfService", Unsigned8, Identifier),
	ie(netflow.IPFIX_FIELD_sourceMacAddress, "sourceMacAddress", MACAddress, DefaultSemantics),
	ie(netflow.IPFIX_FIELD_postDestinationMacAddress, "postDestinationMacAddress", MACAddress, DefaultSemantics),
	ie(netflow.IPFIX_FIELD_vlanId, "vlanId", Unsigned16, Identifier),
	ie(netflow.IPFIX_FIELD_postVlanId, "postVlanId", Unsigned16, Identifier),
	ie(60, "ipVersion", Unsigned8, Identifier),
	ie(61, "flowDirection", Unsigned8, Identifier),
	ie(netflow.IPFIX_FIELD_ipNextHopIPv6Address, "ipNextHopIPv6Address", IPv6Address, DefaultSemantics),
	ie(netflow.IPFIX_FIELD_bgpNextHopIPv6Address, "bgpNextHopIPv6Address", IPv6Address, DefaultSemantics),
	ie(64, "ipv6ExtensionHeaders", Unsigned32, Flags),
	ie(netflow.IPFIX_FIELD_mplsTopLabelStackSection, "mplsTopLabelStackSection", OctetArray, DefaultSemantics),
	ie(netflow.IPFIX_FIELD_mplsLabelStackSection2, "mplsLabelStackSection2", OctetArray, DefaultSemantics),
	ie(netflow.IPFIX_FIELD_mplsLabelStackSection3, "mplsLabelStackSection3", OctetArray, DefaultSemantics),
	ie(netflow.IPFIX_FIELD_mplsLabelStackSection4, "mplsLabelStackSection4", OctetArray, DefaultSemantics),
	ie(netflow.IPFIX_FIELD_mplsLabelStackSection5, "mplsLabelStackSection5", OctetArray, DefaultSemantics),
	ie(netflow.IPFIX_FIELD_mplsLabelStackSection6, "mplsLabelStackSection6", OctetArray, DefaultSemantics),
	ie(netflow.IPFIX_FIELD_mplsLabelStackSection7, "mplsLabelStackSection7", OctetArray, DefaultSemantics),
	ie(netflow.IPFIX_FIELD_mplsLabelStackSection8, "mplsLabelStackSection8", OctetArray, DefaultSemantics),
	ie(netflow.IPFIX_FIELD_mplsLabelStackSection9, "mplsLabelStackSection9", OctetArray, DefaultSemantics),
	ie(netflow.IPFIX_FIELD_mplsLabelStackSection10, "mplsLabelStackSection10", OctetArray, DefaultSemantics),
	ie(netflow.IPFIX_FIELD_destinationMacAddress, "destinationMacAddress", MACAddress, DefaultSemantics),
	ie(netflow.IPFIX_FIELD_postSourceMacAddress, "postSourceMacAddress", MACAddress, DefaultSemantics),
	ie(82, "interfaceName", String, DefaultSemantics),
	ie(83, "interfaceDescription", String, DefaultSemantics),
	ie(85, "octetTotalCount", Unsigned64, TotalCounter),
	ie(86, "packetTotalCount", Unsigned64, TotalCounter),
	ie(netflow.IPFIX_FIELD_fragmentOffset, "fragmentOffset", Unsigned16, DefaultSemantics),
	ie(89, "forwardingStatus", Unsigned8, Identifier),
	ie(90, "mplsVpnRouteDistinguisher", OctetArray, DefaultSemantics),
	ie(94, "applicationDescription", String, DefaultSemantics),
	ie(95, "applicationId", OctetArray, DefaultSemantics),
	ie(netflow.IPFIX_FIELD_applicationName, "applicationName", String, DefaultSemantics),
	ie(98, "postIpDiffServCodePoint", Unsigned8, Identifier),
	ie(99, "multicastReplicationFactor", Unsigned32, Quantity),
	ie(128, "bgpNextAdjacentAsNumber", Unsigned32, Identifier),
	ie(129, "bgpPrevAdjacentAsNumber", Unsigned32, Identifier),
	ie(130, "exporterIPv4Address", IPv4Address, DefaultSemantics),
	ie(131, "exporterIPv6Address", IPv6Address, DefaultSemantics),
	ie(132, "droppedOctetDeltaCount", Unsigned64, DeltaCounter),
	ie(133, "droppedPacketDeltaCount", Unsigned64, DeltaCounter),
	ie(136, "flowEndReason", Unsigned8, Identifier),
	ie(137, "commonPropertiesId", Unsigned64, Identifier),
	ie(138, "observationPointId", Unsigned64, Identifier),
	ie(netflow.IPFIX_FIELD_icmpTypeCodeIPv6, "icmpTypeCodeIPv6", Unsigned16, Identifier),
	ie(143, "meteringProcessId", Unsigned32, Identifier),
	ie(144, "exportingProcessId", Unsigned32, Identifier),
	ie(145, "templateId", Unsigned16, Identifier),
	ie(148, "flowId", Unsigned64, Identifier),
	ie(149, "observationDomainId", Unsigned32, Identifier),
	ie(150, "flowStartSeconds", DateTimeSeconds, DefaultSemantics),
	ie(151, "flowEndSeconds", DateTimeSeconds, DefaultSemantics),
	ie(netflow.IPFIX_FIELD_flowStartMilliseconds, "flowStartMilliseconds", DateTimeMilliseconds, DefaultSemantics),
	ie(153, "flowEndMilliseconds", DateTimeMilliseconds, DefaultSemantics),
	ie(netflow.IPFIX_FIELD_flowStartMicroseconds, "flowStartMicroseconds", DateTimeMicroseconds, DefaultSemantics),
	ie(155, "flowEndMicroseconds", DateTimeMicroseconds, DefaultSemantics),
	ie(netflow.IPFIX_FIELD_flowStartNanoseconds, "flowStartNanoseconds", DateTimeNanoseconds, DefaultSemantics),
	ie(157, "flowEndNanoseconds", DateTimeNanoseconds, DefaultSemantics),
	ie(160, "systemInitTimeMilliseconds", DateTimeMilliseconds, DefaultSemantics),
	ie(161, "flowDurationMilliseconds", Unsigned32, DefaultSemantics),
	ie(162, "flowDurationMicroseconds", Unsigned32, DefaultSemantics),
	ie(163, "observedFlowTotalCount", Unsigned64, TotalCounter),
	ie(164, "ignoredPacketTotalCount", Unsigned64, TotalCounter),
	ie(165, "ignoredOctetTotalCount", Unsigned64, TotalCounter),
	ie(166, "notSentFlowTotalCount", Unsigned64, TotalCounter),
	ie(167, "notSentPacketTotalCount", Unsigned64, TotalCounter),
	ie(168, "notSentOctetTotalCount", Unsigned64, TotalCounter),
	ie(netflow.IPFIX_FIELD_icmpTypeIPv4, "icmpTypeIPv4", Unsigned8, Identifier),
	ie(netflow.IPFIX_FIELD_icmpCodeIPv4, "icmpCodeIPv4", Unsigned8, Identifier),
	ie(netflow.IPFIX_FIELD_icmpTypeIPv6, "icmpTypeIPv6", Unsigned8, Identifier),
	ie(netflow.IPFIX_FIELD_icmpCodeIPv6, "icmpCodeIPv6", Unsigned8, Identifier),
	ie(180, "udpSourcePort", Unsigned16, Identifier),
	ie(181, "udpDestinationPort", Unsigned16, Identifier),
	ie(182, "tcpSourcePort", Unsigned16, Identifier),
	ie(183, "tcpDestinationPort", Unsigned16, Identifier),
	ie(184, "tcpSequenceNumber", Unsigned32, DefaultSemantics),
	ie(185, "tcpAcknowledgementNumber", Unsigned32, DefaultSemantics),
	ie(186, "tcpWindowSize", Unsigned16, DefaultSemantics),
	ie(189, "ipHeaderLength", Unsigned8, DefaultSemantics),
	ie(190, "totalLengthIPv4", Unsigned16, DefaultSemantics),
	ie(192, "ipTTL", Unsigned8, DefaultSemantics),
	ie(195, "ipDiffServCodePoint", Unsigned8, Identifier),
	ie(196, "ipPrecedence", Unsigned8, Identifier),
	ie(197, "fragmentFlags", Unsigned8, Flags),
	ie(198, "octetDeltaSumOfSquares", Unsigned64, DefaultSemantics),
	ie(204, "ipPayloadLength", Unsigned32, DefaultSemantics),
	ie(205, "udpMessageLength", Unsigned16, DefaultSemantics),
	ie(206, "isMulticast", Unsigned8, Flags),
	ie(210, "paddingOctets", OctetArray, DefaultSemantics),
	ie(211, "collectorIPv4Address", IPv4Address, DefaultSemantics),
	ie(212, "collectorIPv6Address", IPv6Address, DefaultSemantics),
	ie(213, "exportInterface", Unsigned32, Identifier),
	ie(214, "exportProtocolVersion", Unsigned8, Identifier),
	ie(215, "exportTransportProtocol", Unsigned8, Identifier),
	ie(216, "collectorTransportPort", Unsigned16, Identifier),
	ie(217, "exporterTransportPort", Unsigned16, Identifier),
	ie(224, "ipTotalLength", Unsigned64, DefaultSemantics),
	ie(netflow.IPFIX_FIELD_postNATSourceIPv4Address, "postNATSourceIPv4Address", IPv4Address, DefaultSemantics),
	ie(netflow.IPFIX_FIELD_postNATDestinationIPv4Address, "postNATDestinationIPv4Address", IPv4Address, DefaultSemantics),
	ie(netflow.IPFIX_FIELD_postNAPTSourceTransportPort, "postNAPTSourceTransportPort", Unsigned16, Identifier),
	ie(netflow.IPFIX_FIELD_postNAPTDestinationTransportPort, "postNAPTDestinationTransportPort", Unsigned16, Identifier),
	ie(229, "natOriginatingAddressRealm", Unsigned8, Identifier),
	ie(230, "natEvent", Unsigned8, Identifier),
	ie(netflow.IPFIX_FIELD_initiatorOctets, "initiatorOctets", Unsigned64, DeltaCounter),
	ie(netflow.IPFIX_FIELD_responderOctets, "responderOctets", Unsigned64, DeltaCounter),
	ie(233, "firewallEvent", Unsigned8, Identifier),
	ie(234, "ingressVRFID", Unsigned32, Identifier),
	ie(235, "egressVRFID", Unsigned32, Identifier),
	ie(netflow.IPFIX_FIELD_VRFname, "VRFname", String, DefaultSemantics),
	ie(243, "dot1qVlanId", Unsigned16, Identifier),
	ie(244, "dot1qPriority", Unsigned8, Identifier),
	ie(245, "dot1qCustomerVlanId", Unsigned16, Identifier),
	ie(252, "ingressPhysicalInterface", Unsigned32, Identifier),
	ie(253, "egressPhysicalInterface", Unsigned32, Identifier),
	ie(254, "postDot1qVlanId", Unsigned16, Identifier),
	ie(256, "ethernetType", Unsigned16, Identifier),
	ie(291, "basicList", BasicList, List),
	ie(292, "subTemplateList", SubTemplateList, List),
	ie(293, "subTemplateMultiList", SubTemplateMultiList, List),
	ie(298, "initiatorPackets", Unsigned64, Identifier),
	ie(299, "responderPackets", Unsigned64, Identifier),
	ie(300, "observationDomainName", String, DefaultSemantics),
	ie(302, "selectorId", Unsigned64, Identifier),
	ie(304, "selectorAlgorithm", Unsigned16, Identifier),
	ie(305, "samplingPacketInterval", Unsigned32, Quantity),
	ie(306, "samplingPacketSpace", Unsigned32, Quantity),
	ie(312, "dataLinkFrameSize", Unsigned16, DefaultSemantics),
	ie(315, "dataLinkFrameSection", OctetArray, DefaultSemantics),
	ie(322, "observationTimeSeconds", DateTimeSeconds, DefaultSemantics),
	ie(323, "observationTimeMilliseconds", DateTimeMilliseconds, DefaultSemantics),
	ie(324, "observationTimeMicroseconds", DateTimeMicroseconds, DefaultSemantics),
	ie(325, "observationTimeNanoseconds", DateTimeNanoseconds, DefaultSemantics),
	ie(351, "layer2SegmentId", Unsigned64, Identifier),
	ie(352, "layer2OctetDeltaCount", Unsigned64, DeltaCounter),
	ie(361, "portRangeStart", Unsigned16, Identifier),
	ie(362, "portRangeEnd", Unsigned16, Identifier),
	ie(363, "portRangeStepSize", Unsigned16, Identifier),
	ie(364, "portRangeNumPorts", Unsigned16, Identifier),
	ie(372, "ingressUnicastPacketTotalCount", Unsigned64, TotalCounter),
	ie(407, "forwardingStatusReason", Unsigned8, Identifier),
	ie(458, "sourceTransportPortsLimit", Unsigned16, DefaultSemantics),
	ie(470, "natQuotaExceededEvent", Unsigned32, Identifier),
}

// NetFlow v9 options templates use a dedicated set of scope field
// types (RFC 3954 section 6.1). They overlap with regular field types,
// so they are looked up separately.
var scopeElements = []Element{
	{ID: 1, Name: "scopeSystem", Type: OctetArray},
	{ID: 2, Name: "scopeInterface", Type: Unsigned32, Semantics: Identifier},
	{ID: 3, Name: "scopeLineCard", Type: Unsigned32, Semantics: Identifier},
	{ID: 4, Name: "scopeCache", Type: Unsigned32, Semantics: Identifier},
	{ID: 5, Name: "scopeTemplate", Type: Unsigned16, Semantics: Identifier},
}
